package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aldar.app/internal/session"
)

func (s *Store) SessionByToken(ctx context.Context, company, token string) (session.Session, error) {
	var (
		out        session.Session
		dateCached sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, session_token, company, customer_id, product_ids, refresh_required, date_cached
		from session
		where company = $1 and session_token = $2 and isactive
	`, company, token).Scan(&out.ID, &out.Token, &out.Company, &out.CustomerID, &out.ProductIDs, &out.RefreshRequired, &dateCached)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	if dateCached.Valid {
		out.DateCached = time.Unix(dateCached.Int64, 0).UTC()
	}
	return out, nil
}

func (s *Store) ActiveUserByCustomerID(ctx context.Context, customerID int64) (session.User, error) {
	var (
		u        session.User
		memberID sql.NullString
		email    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, et_user_id, lms_membership_id, email
		from users
		where et_user_id = $1 and is_active
		order by id
		limit 1
	`, customerID).Scan(&u.ID, &u.CustomerID, &memberID, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return session.User{}, session.ErrNotFound
	}
	if err != nil {
		return session.User{}, err
	}
	u.LMSMemberID, u.Email = memberID.String, email.String
	return u, nil
}

// UserGroups returns the distinct active group bindings of a customer.
func (s *Store) UserGroups(ctx context.Context, company string, customerID int64) ([]int64, error) {
	return s.int64s(ctx, `
		select distinct user_group from wlvalidation
		where wl_company = $1 and customer_id = $2 and active
		order by user_group
	`, company, customerID)
}

func (s *Store) ConfiguredProductIDs(ctx context.Context, company string, groups []int64) ([]int64, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	return s.int64s(ctx, `
		select distinct product_id from wl_product
		where wl_company = $1 and user_group = any($2) and isactive
		order by product_id
	`, company, groups)
}

func (s *Store) SaveEntitlements(ctx context.Context, sessionID int64, productIDs string, refreshRequired bool, cachedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update session set product_ids = $2, refresh_required = $3, date_cached = $4
		where id = $1
	`, sessionID, productIDs, refreshRequired, cachedAt.Unix())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) int64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
