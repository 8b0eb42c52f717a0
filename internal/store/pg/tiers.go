package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aldar.app/internal/batchsync"
)

func (s *Store) GroupByName(ctx context.Context, company, name string) (int64, error) {
	var group int64
	err := s.db.QueryRowContext(ctx, `
		select user_group from wl_user_group where name = $1 and wl_company = $2 order by id limit 1
	`, name, company).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, batchsync.ErrNotFound
	}
	return group, err
}

func (s *Store) ActiveGroups(ctx context.Context, company string, customerID int64) ([]int64, error) {
	return s.UserGroups(ctx, company, customerID)
}

// BindGroup inserts an active, used wlvalidation row. A duplicate wl_key is
// reported as batchsync.ErrConflict so the caller can draw a new key.
func (s *Store) BindGroup(ctx context.Context, b batchsync.GroupBinding) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into wlvalidation (wl_key, wl_company, email, isused, customer_id, activation_date, active, user_group, date_created, date_updated)
		values ($1, $2, $3, true, $4, $5, true, $6, $7, $7)
		returning id
	`, b.Key, b.Company, b.Email, b.CustomerID, b.ActivatedAt.UTC(), b.UserGroup, s.now().UTC()).Scan(&id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return 0, batchsync.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) DeactivateOtherGroups(ctx context.Context, company string, customerID, keepID int64) error {
	_, err := s.db.ExecContext(ctx, `
		update wlvalidation set active = false, date_updated = $4
		where wl_company = $1 and customer_id = $2 and id <> $3
	`, company, customerID, keepID, s.now().UTC())
	return err
}

// RefreshSessions flags every session of the customer so entitlements are
// recomputed on next use.
func (s *Store) RefreshSessions(ctx context.Context, company string, customerID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update session set refresh_required = true, date_cached = $3
		where company = $1 and customer_id = $2
	`, company, customerID, at.Unix())
	return err
}
