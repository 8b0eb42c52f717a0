package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aldar.app/internal/usersync"
)

var _ usersync.Store = (*Store)(nil)

// PendingEnrollments returns users with an email but no LMS membership whose
// enrollment has failed fewer than maxAttempts times.
func (s *Store) PendingEnrollments(ctx context.Context, limit, maxAttempts int) ([]usersync.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(first_name, ''), coalesce(last_name, ''), email,
		       coalesce(membership_id, ''), coalesce(mobile_no, ''), coalesce(referrer_member_id, ''),
		       coalesce(country_of_residence, ''), coalesce(nationality, ''), coalesce(gender, ''),
		       date_of_birth
		from users
		where coalesce(email, '') <> ''
		  and coalesce(lms_membership_id, '') = ''
		  and sync_attempts < $1
		order by id
		limit $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usersync.User
	for rows.Next() {
		var (
			u   usersync.User
			dob sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.MembershipID, &u.MobileNumber,
			&u.ReferrerMemberID, &u.CountryOfResidence, &u.Nationality, &u.Gender, &dob); err != nil {
			return nil, err
		}
		if dob.Valid {
			u.DateOfBirth = dob.Time
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkEnrolled stores the membership; users the LMS does not report as active are deactivated.
func (s *Store) MarkEnrolled(ctx context.Context, userID int64, e usersync.Enrolled, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set lms_membership_id = $2, lms_status = $3, lms_tier = $4, is_active = $5,
		    sync_attempts = sync_attempts + 1, updated_at = $6
		where id = $1
	`, userID, e.MemberID, e.Status, e.Tier, e.Active, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

func (s *Store) IncrementSyncAttempts(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `update users set sync_attempts = sync_attempts + 1 where id = $1`, userID)
	return err
}
