package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"aldar.app/internal/batchsync"
)

func (s *Store) DirectoryConfig(ctx context.Context, dir string) (batchsync.DirectoryConfig, error) {
	var (
		cfg        batchsync.DirectoryConfig
		recipients string
	)
	err := s.db.QueryRowContext(ctx, `
		select asset, email_notification_enabled, email_recipients, log_encryption_key
		from sftp_directory_configuration where directory_name = $1
	`, dir).Scan(&cfg.Asset, &cfg.EmailNotificationEnabled, &recipients, &cfg.LogEncryptionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return batchsync.DirectoryConfig{}, batchsync.ErrNotFound
	}
	if err != nil {
		return batchsync.DirectoryConfig{}, err
	}
	for _, r := range strings.Split(recipients, ";") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.EmailRecipients = append(cfg.EmailRecipients, r)
		}
	}
	return cfg, nil
}

// InsertRecords stores a file's rows in one transaction.
func (s *Store) InsertRecords(ctx context.Context, recs []batchsync.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		insert into sftp_records (directory, record_kind, file_name, unique_file_identifier, email, fields, status, details, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $9)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, r := range recs {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.Directory, r.Kind, r.FileName, r.BatchID, nullString(r.Email),
			string(fields), int(r.Status), nullString(r.Details), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Records(ctx context.Context, fileName, batchID string, pendingOnly bool) ([]batchsync.Record, error) {
	query := `
		select id, directory, record_kind, file_name, unique_file_identifier, coalesce(email, ''), fields, status,
			points, coalesce(lms_transaction_id, ''), coalesce(earn_id, 0), coalesce(refund_id, 0),
			coalesce(api_response, ''), coalesce(details, '')
		from sftp_records
		where file_name = $1 and unique_file_identifier = $2`
	if pendingOnly {
		query += ` and status = 0`
	}
	query += ` order by id`

	rows, err := s.db.QueryContext(ctx, query, fileName, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []batchsync.Record
	for rows.Next() {
		var (
			r      batchsync.Record
			raw    []byte
			status int
		)
		if err := rows.Scan(&r.ID, &r.Directory, &r.Kind, &r.FileName, &r.BatchID, &r.Email, &raw, &status,
			&r.Points, &r.LMSTransactionID, &r.EarnID, &r.RefundID, &r.APIResponse, &r.Details); err != nil {
			return nil, err
		}
		r.Status = batchsync.Status(status)
		r.Fields = map[string]string{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of record %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRecords applies outcomes in one transaction.
func (s *Store) UpdateRecords(ctx context.Context, ups []batchsync.RecordUpdate) error {
	if len(ups) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		update sftp_records set
			status = $2,
			details = $3,
			points = $4,
			lms_transaction_id = coalesce($5, lms_transaction_id),
			earn_id = coalesce($6, earn_id),
			refund_id = coalesce($7, refund_id),
			api_response = coalesce($8, api_response),
			updated_at = $9
		where id = $1
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range ups {
		at := u.UpdatedAt
		if at.IsZero() {
			at = s.now()
		}
		if _, err := stmt.ExecContext(ctx, u.ID, int(u.Status), u.Details, u.Points,
			nullString(u.LMSTransactionID), nullInt(u.EarnID), nullInt(u.RefundID), nullString(u.APIResponse), at.UTC()); err != nil {
			return fmt.Errorf("update record %d: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// LMSUserByEmail returns the user with this email that has an LMS membership.
func (s *Store) LMSUserByEmail(ctx context.Context, email string) (batchsync.LMSUser, error) {
	var u batchsync.LMSUser
	err := s.db.QueryRowContext(ctx, `
		select id, et_user_id, lms_membership_id, email from users
		where email = $1 and lms_membership_id is not null
		order by id
		limit 1
	`, email).Scan(&u.ID, &u.CustomerID, &u.MemberID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return batchsync.LMSUser{}, batchsync.ErrNotFound
	}
	return u, err
}

// ConceptIDs lists concept ids of outlets whose merchant belongs to the asset.
func (s *Store) ConceptIDs(ctx context.Context, asset string) (map[string]bool, error) {
	return s.stringSet(ctx, `
		select o.concept_id from outlet o
		join merchant_mapping m on o.merchant_id = m.et_merchant_id
		where m.category = $1 and coalesce(o.concept_id, '') <> ''
	`, asset)
}

func (s *Store) ConceptMappings(ctx context.Context, asset string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select aldar_concept_id, lms_concept_id from concept_id_mapping
		where asset = $1 and aldar_concept_id <> '' and lms_concept_id <> ''
		order by id
	`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		out[from] = to
	}
	return out, rows.Err()
}

func (s *Store) PackageIDs(ctx context.Context) (map[string]bool, error) {
	return s.stringSet(ctx, `select service_id from maintenance_packages_lookup`)
}

// SalesOrderNetValues maps sales order ids found among records of kind to the
// property net value of their latest row.
func (s *Store) SalesOrderNetValues(ctx context.Context, kind string, orderIDs []string) (map[string]float64, error) {
	out := map[string]float64{}
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select fields->>'sales_order_id', coalesce(fields->>'property_net_value', '')
		from sftp_records
		where record_kind = $1 and fields->>'sales_order_id' = any($2)
		order by id
	`, kind, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		v, _ := strconv.ParseFloat(value, 64)
		out[id] = v
	}
	return out, rows.Err()
}

func (s *Store) RecordFileStatus(ctx context.Context, fs batchsync.FileStatus) error {
	var total sql.NullInt64
	if fs.TotalRecords != nil {
		total = sql.NullInt64{Int64: int64(*fs.TotalRecords), Valid: true}
	}
	status := 0
	if fs.OK {
		status = 1
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sftp_file_status (directory, file_name, status, details, total_records, valid_transactions, checksum, date_created)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, fs.Directory, fs.FileName, status, fs.Details, total, fs.ValidTransactions, nullString(fs.Checksum), s.now().UTC())
	return err
}

func (s *Store) QueueEmail(ctx context.Context, e batchsync.Email) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into ent_send_emails (email_to, email_template_type_id, email_template_data, optional_data, language, priority, created_date)
		values ($1, $2, '', $3, $4, $5, $6)
	`, e.To, e.TemplateID, e.OptionalData, e.Language, e.Priority, created.UTC())
	return err
}

// SyncTransactions runs the asset-keyed reporting procedure.
func (s *Store) SyncTransactions(ctx context.Context, asset string) error {
	_, err := s.db.ExecContext(ctx, `call aldar_sftp_transaction_sync($1)`, asset)
	return err
}

func (s *Store) stringSet(ctx context.Context, query string, args ...any) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

