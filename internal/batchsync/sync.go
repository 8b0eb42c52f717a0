// Package batchsync imports the counterparty's PGP-encrypted CSV drops,
// reconciles each row with the LMS and reports the outcome back through the
// same SFTP directory tree:
//
//	<dir>/upload   new files
//	<dir>/archive  processed files
//	<dir>/error    rejected files
//	<dir>/logs     encrypted result logs (log_<file>)
//
// Rows are stored before any LMS call and keyed by file name plus a batch id
// so that a rerun only touches its own rows.
package batchsync

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"aldar.app/internal/cache"
	"aldar.app/internal/ids"
	"aldar.app/internal/lms"
	"aldar.app/internal/obs"
)

const (
	uploadDir  = "upload"
	archiveDir = "archive"
	errorDir   = "error"
	logsDir    = "logs"
)

// LMS is the part of the loyalty client the synchronizer calls. lms.Retrier
// implements it.
type LMS interface {
	Earn(ctx context.Context, txs []lms.EarnTransaction) (*lms.EarnResult, error)
	Refund(ctx context.Context, req lms.RefundRequest) (*lms.RefundResult, error)
}

// Options tunes a Synchronizer. Zero values pick the production defaults.
type Options struct {
	Company         string
	ChunkSize       int
	Delay           time.Duration
	MaxRecords      int
	RunLockTTL      time.Duration
	SuccessTemplate int
	FailureTemplate int
}

func (o *Options) defaults() {
	if o.Company == "" {
		o.Company = "ADR"
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = 5000
	}
	if o.RunLockTTL <= 0 {
		o.RunLockTTL = 2 * time.Hour
	}
	if o.SuccessTemplate == 0 {
		o.SuccessTemplate = 984
	}
	if o.FailureTemplate == 0 {
		o.FailureTemplate = 983
	}
}

type Synchronizer struct {
	store   Store
	remote  RemoteFS
	crypter Crypter
	locks   cache.Store
	lmsFor  func(dir string) (LMS, error)
	opts    Options

	now     func() time.Time
	batchID func() string
	randN   func(n int) int
	pace    func(delay time.Duration) pacer
}

type Option func(*Synchronizer)

func WithClock(now func() time.Time) Option { return func(s *Synchronizer) { s.now = now } }

// WithBatchIDs overrides the generator of batch ids (ULIDs by default).
func WithBatchIDs(f func() string) Option { return func(s *Synchronizer) { s.batchID = f } }

func New(store Store, remote RemoteFS, crypter Crypter, locks cache.Store, lmsFor func(dir string) (LMS, error), opts Options, extra ...Option) *Synchronizer {
	opts.defaults()
	s := &Synchronizer{
		store:   store,
		remote:  remote,
		crypter: crypter,
		locks:   locks,
		lmsFor:  lmsFor,
		opts:    opts,
		now:     time.Now,
		batchID: ids.New,
		randN:   rand.IntN,
		pace:    newPacer,
	}
	for _, o := range extra {
		o(s)
	}
	return s
}

// fileRun is the state of one file being processed.
type fileRun struct {
	dir      Directory
	cfg      DirectoryConfig
	name     string
	batchID  string
	checksum string
	total    *int
	valid    int
	log      zerolog.Logger
}

// RunAll processes each directory in turn. A failing directory does not stop
// the others; their errors are joined.
func (s *Synchronizer) RunAll(ctx context.Context, names []string) error {
	if len(names) == 0 {
		names = Names()
	}
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.Run(ctx, name); err != nil {
			obs.Logger().Error().Err(err).Str("directory", name).Msg("exception occurred in processing directory")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Run processes every file waiting in the upload directory of name.
func (s *Synchronizer) Run(ctx context.Context, name string) error {
	dir, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("unknown directory %q", name)
	}
	release, err := cache.TryLock(ctx, s.locks, "aldar_sftp_sync_"+name, s.opts.RunLockTTL)
	if err != nil {
		return fmt.Errorf("run lock: %w", err)
	}
	defer release()

	cfg, err := s.store.DirectoryConfig(ctx, name)
	if err != nil {
		return fmt.Errorf("directory configuration: %w", err)
	}
	for _, sub := range []string{uploadDir, archiveDir, errorDir, logsDir} {
		ok, err := s.remote.IsDir(path.Join(name, sub))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("Invalid %s_DIR", sub)
		}
	}

	files, err := s.remote.List(path.Join(name, uploadDir))
	if err != nil {
		return fmt.Errorf("list upload: %w", err)
	}
	log := obs.Logger().With().Str("directory", name).Logger()
	log.Info().Int("files", len(files)).Msg("sftp directory scanned")
	for _, file := range files {
		run := &fileRun{dir: dir, cfg: cfg, name: file, log: log.With().Str("file_name", file).Logger()}
		if err := s.processFile(ctx, run); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	return nil
}

func (s *Synchronizer) processFile(ctx context.Context, run *fileRun) error {
	name := run.dir.Name
	dup, err := s.remote.Exists(path.Join(name, archiveDir, run.name))
	if err != nil {
		return err
	}
	if dup {
		s.reject(ctx, run, "duplicate", fmt.Sprintf(
			"Duplicate File. \nFile with this name already exist in archive directory. File name = %s", run.name))
		return nil
	}

	raw, err := s.remote.ReadFile(path.Join(name, uploadDir, run.name))
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	sum := blake3.Sum256(raw)
	run.checksum = hex.EncodeToString(sum[:])

	plain, err := s.crypter.Decrypt(raw)
	if err != nil {
		run.log.Error().Err(err).Int("encrypted_bytes", len(raw)).Msg("Aldar encrypted file can't be decrypted")
		s.reject(ctx, run, "decrypt_failed", "Unable to decrypt file.")
		return nil
	}

	recs, detail := s.parse(run, plain)
	if detail != "" {
		s.reject(ctx, run, "rejected", detail)
		return nil
	}
	total := len(recs)
	run.total = &total
	if total > s.opts.MaxRecords {
		s.reject(ctx, run, "too_large", fmt.Sprintf(
			"Unable to process the file. Number of records should be less than %d.", s.opts.MaxRecords))
		return nil
	}
	if err := s.store.InsertRecords(ctx, recs); err != nil {
		run.log.Error().Err(err).Msg("exception occurred in saving file records in database")
	}

	if run.dir.Refund {
		err = s.refund(ctx, run)
	} else {
		err = s.earn(ctx, run)
	}
	if err != nil {
		return err
	}

	if err := s.remote.Rename(path.Join(name, uploadDir, run.name), path.Join(name, archiveDir, run.name)); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	all, err := s.store.Records(ctx, run.name, run.batchID, false)
	if err != nil {
		return err
	}
	if len(all) > 0 {
		if err := s.writeLog(run, all); err != nil {
			run.log.Error().Err(err).Msg("result log upload failed")
		}
	}
	s.countRows(run, all)
	s.fileStatus(ctx, run, true, "Processed Successfully.")
	obs.IncBatchFile(name, "processed")

	if err := s.store.SyncTransactions(ctx, run.dir.Asset); err != nil {
		run.log.Error().Err(err).Msg("exception occurred in running store procedure")
	}
	return nil
}

// parse validates the header and cleans every row. A non-empty detail rejects the file.
func (s *Synchronizer) parse(run *fileRun, plain []byte) ([]Record, string) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(plain, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty file")
		}
		return nil, fmt.Sprintf("Unable to process File. \nError detail %v", err)
	}
	for i := range header {
		header[i] = strings.ToLower(header[i])
	}
	if extra, ok := headerDiff(header, run.dir.Header); !ok {
		run.log.Error().Strs("header", header).Msg("incorrect file header")
		return nil, "File Header doesn't match. \nError detail " + extra
	}

	run.batchID = s.batchID()
	var recs []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Sprintf("Unable to process File. \nError detail %v", err)
		}
		// short rows leave the trailing columns absent; the schema reports them per row
		values := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				values[col] = row[i]
			}
		}
		clean, ferrs, err := Clean(run.dir.Kind, values)
		if err != nil {
			return nil, fmt.Sprintf("Unable to process File. \nError detail %v", err)
		}
		if len(row) > len(header) {
			if ferrs == nil {
				ferrs = FieldErrors{}
			}
			ferrs[extraColumnsKey] = []string{"Unknown field."}
		}
		rec := Record{
			Directory: run.dir.Name,
			Kind:      string(run.dir.Kind),
			FileName:  run.name,
			BatchID:   run.batchID,
			Email:     clean["email"],
			Fields:    clean,
			Status:    StatusPending,
		}
		if ferrs != nil {
			msg, _ := json.Marshal(ferrs)
			rec.Status = StatusError
			rec.Details = string(msg)
			run.log.Warn().RawJSON("errors", msg).Msg("faulty record detected")
		}
		recs = append(recs, rec)
	}
	return recs, ""
}

// headerDiff compares column sets. extra lists the unexpected columns the way
// operators are used to reading them.
func headerDiff(got, want []string) (string, bool) {
	wantSet := make(map[string]bool, len(want))
	for _, c := range want {
		wantSet[c] = true
	}
	gotSet := make(map[string]bool, len(got))
	var unexpected []string
	for _, c := range got {
		if !gotSet[c] && !wantSet[c] {
			unexpected = append(unexpected, c)
		}
		gotSet[c] = true
	}
	same := len(unexpected) == 0 && len(gotSet) == len(wantSet)
	if same {
		return "", true
	}
	if len(unexpected) == 0 {
		return "set()", false
	}
	sort.Strings(unexpected)
	return "{'" + strings.Join(unexpected, "', '") + "'}", false
}

// reject records a failed FileStatus and moves the upload into error/.
func (s *Synchronizer) reject(ctx context.Context, run *fileRun, outcome, detail string) {
	s.fileStatus(ctx, run, false, detail)
	obs.IncBatchFile(run.dir.Name, outcome)
	name := run.dir.Name
	target := path.Join(name, errorDir, run.name)
	if exists, err := s.remote.Exists(target); err == nil && exists {
		if err := s.remote.Remove(target); err != nil {
			run.log.Error().Err(err).Msg("remove previous error file")
		}
	}
	if err := s.remote.Rename(path.Join(name, uploadDir, run.name), target); err != nil {
		run.log.Error().Err(err).Msg("move file to error directory")
	}
}

func (s *Synchronizer) fileStatus(ctx context.Context, run *fileRun, ok bool, detail string) {
	err := s.store.RecordFileStatus(ctx, FileStatus{
		Directory:         run.dir.Name,
		FileName:          run.name,
		OK:                ok,
		Details:           detail,
		TotalRecords:      run.total,
		ValidTransactions: run.valid,
		Checksum:          run.checksum,
	})
	if err != nil {
		run.log.Error().Err(err).Msg("exception occurred in saving file status")
		return
	}
	s.notify(ctx, run, ok, detail)
}

func (s *Synchronizer) countRows(run *fileRun, recs []Record) {
	counts := map[Status]int{}
	for _, r := range recs {
		counts[r.Status]++
	}
	for st, n := range counts {
		obs.AddBatchRows(run.dir.Name, st.String(), n)
	}
}
