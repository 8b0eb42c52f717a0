package batchsync

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"

	"aldar.app/internal/lms"
)

type memStore struct {
	mu sync.Mutex

	cfg      DirectoryConfig
	records  []Record
	users    map[string]LMSUser
	concepts map[string]bool
	mappings map[string]string
	packages map[string]bool
	orders   map[string]float64
	groups   map[string]int64
	active   []int64

	statuses    []FileStatus
	emails      []Email
	synced      []string
	bindings    []GroupBinding
	kept        []int64
	refreshed   []int64
	conflicts   int
	insertCalls int
}

func newMemStore() *memStore {
	return &memStore{
		cfg:      DirectoryConfig{Asset: AssetLeasing},
		users:    map[string]LMSUser{},
		concepts: map[string]bool{},
		mappings: map[string]string{},
		packages: map[string]bool{},
		orders:   map[string]float64{},
		groups:   map[string]int64{},
	}
}

func (m *memStore) DirectoryConfig(context.Context, string) (DirectoryConfig, error) {
	return m.cfg, nil
}

func (m *memStore) InsertRecords(_ context.Context, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	for _, r := range recs {
		r.ID = int64(len(m.records) + 1)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *memStore) Records(_ context.Context, fileName, batchID string, pendingOnly bool) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.FileName != fileName || r.BatchID != batchID {
			continue
		}
		if pendingOnly && r.Status != StatusPending {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) UpdateRecords(_ context.Context, ups []RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range ups {
		r := &m.records[u.ID-1]
		r.Status = u.Status
		r.Details = u.Details
		r.Points = u.Points
		if u.LMSTransactionID != "" {
			r.LMSTransactionID = u.LMSTransactionID
		}
		if u.EarnID != 0 {
			r.EarnID = u.EarnID
		}
		if u.RefundID != 0 {
			r.RefundID = u.RefundID
		}
		if u.APIResponse != "" {
			r.APIResponse = u.APIResponse
		}
	}
	return nil
}

func (m *memStore) record(ref string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Fields["payment_reference_number"] == ref || r.Fields["sales_order_id"] == ref {
			return r
		}
	}
	return Record{}
}

func (m *memStore) LMSUserByEmail(_ context.Context, email string) (LMSUser, error) {
	u, ok := m.users[email]
	if !ok {
		return LMSUser{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) ConceptIDs(context.Context, string) (map[string]bool, error) { return m.concepts, nil }

func (m *memStore) ConceptMappings(context.Context, string) (map[string]string, error) {
	return m.mappings, nil
}

func (m *memStore) PackageIDs(context.Context) (map[string]bool, error) { return m.packages, nil }

func (m *memStore) SalesOrderNetValues(_ context.Context, _ string, ids []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, id := range ids {
		if v, ok := m.orders[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *memStore) RecordFileStatus(_ context.Context, st FileStatus) error {
	m.statuses = append(m.statuses, st)
	return nil
}

func (m *memStore) QueueEmail(_ context.Context, e Email) error {
	m.emails = append(m.emails, e)
	return nil
}

func (m *memStore) SyncTransactions(_ context.Context, asset string) error {
	m.synced = append(m.synced, asset)
	return nil
}

func (m *memStore) GroupByName(_ context.Context, _, name string) (int64, error) {
	id, ok := m.groups[name]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (m *memStore) ActiveGroups(context.Context, string, int64) ([]int64, error) { return m.active, nil }

func (m *memStore) BindGroup(_ context.Context, b GroupBinding) (int64, error) {
	if m.conflicts > 0 {
		m.conflicts--
		return 0, ErrConflict
	}
	m.bindings = append(m.bindings, b)
	return int64(100 + len(m.bindings)), nil
}

func (m *memStore) DeactivateOtherGroups(_ context.Context, _ string, _, keepID int64) error {
	m.kept = append(m.kept, keepID)
	return nil
}

func (m *memStore) RefreshSessions(_ context.Context, _ string, customerID int64, _ time.Time) error {
	m.refreshed = append(m.refreshed, customerID)
	return nil
}

// memRemote is a RemoteFS over a map of slash separated paths.
type memRemote struct {
	files map[string][]byte
	dirs  map[string]bool
}

func newMemRemote(dir string) *memRemote {
	r := &memRemote{files: map[string][]byte{}, dirs: map[string]bool{}}
	for _, sub := range []string{uploadDir, archiveDir, errorDir, logsDir} {
		r.dirs[path.Join(dir, sub)] = true
	}
	return r
}

func (r *memRemote) IsDir(p string) (bool, error) { return r.dirs[p], nil }

func (r *memRemote) List(dir string) ([]string, error) {
	var out []string
	for p := range r.files {
		if path.Dir(p) == dir {
			out = append(out, path.Base(p))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRemote) ReadFile(p string) ([]byte, error) {
	b, ok := r.files[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return b, nil
}

func (r *memRemote) WriteFile(p string, data []byte) error {
	r.files[p] = data
	return nil
}

func (r *memRemote) Exists(p string) (bool, error) {
	_, ok := r.files[p]
	return ok || r.dirs[p], nil
}

func (r *memRemote) Rename(from, to string) error {
	b, ok := r.files[from]
	if !ok {
		return fs.ErrNotExist
	}
	delete(r.files, from)
	r.files[to] = b
	return nil
}

func (r *memRemote) Remove(p string) error {
	delete(r.files, p)
	return nil
}

// plainCrypter passes data through. Input starting with "garbage" fails to decrypt.
type plainCrypter struct{ recipients []string }

func (c *plainCrypter) Decrypt(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte("garbage")) {
		return nil, errors.New("openpgp: invalid data")
	}
	return data, nil
}

func (c *plainCrypter) Encrypt(data []byte, recipient string) ([]byte, error) {
	c.recipients = append(c.recipients, recipient)
	return data, nil
}

type fakeLMS struct {
	earns   [][]lms.EarnTransaction
	refunds []lms.RefundRequest
	earn    func(txs []lms.EarnTransaction) (*lms.EarnResult, error)
	refund  func(req lms.RefundRequest) (*lms.RefundResult, error)
}

func (f *fakeLMS) Earn(_ context.Context, txs []lms.EarnTransaction) (*lms.EarnResult, error) {
	f.earns = append(f.earns, txs)
	return f.earn(txs)
}

func (f *fakeLMS) Refund(_ context.Context, req lms.RefundRequest) (*lms.RefundResult, error) {
	f.refunds = append(f.refunds, req)
	return f.refund(req)
}

func csvFile(header []string, rows ...map[string]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, row := range rows {
		line := make([]string, len(header))
		for i, col := range header {
			line[i] = row[col]
		}
		_ = w.Write(line)
	}
	w.Flush()
	return buf.Bytes()
}
