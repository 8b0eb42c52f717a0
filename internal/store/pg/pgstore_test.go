package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/batchsync"
	"aldar.app/internal/errlog"
	"aldar.app/internal/lms"
	"aldar.app/internal/session"
	"aldar.app/internal/usersync"
)

// passthrough lets slice arguments reach sqlmock the way pgx accepts them.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestSessionByToken(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from session").
		WithArgs("ADR", "tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_token", "company", "customer_id", "product_ids", "refresh_required", "date_cached"}).
			AddRow(int64(4), "tok", "ADR", int64(77), "1,2", true, fixedNow.Unix()))

	got, err := s.SessionByToken(context.Background(), "ADR", "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(77), got.CustomerID)
	assert.True(t, got.RefreshRequired)
	assert.Equal(t, fixedNow, got.DateCached)

	mock.ExpectQuery("from session").WithArgs("ADR", "nope").WillReturnError(sql.ErrNoRows)
	_, err = s.SessionByToken(context.Background(), "ADR", "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfiguredProductIDs(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from wl_product").
		WithArgs("ADR", []int64{1, 2}).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}).AddRow(int64(10)).AddRow(int64(11)))

	ids, err := s.ConfiguredProductIDs(context.Background(), "ADR", []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, ids)

	none, err := s.ConfiguredProductIDs(context.Background(), "ADR", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntitlementsMissingSession(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update session set product_ids").
		WithArgs(int64(9), "1,2", false, fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SaveEntitlements(context.Background(), 9, "1,2", false, fixedNow)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestConfigurations(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from api_configurations").
		WithArgs("ADR", "prod", "public").
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value"}).
			AddRow("enable_json_decryption", "true").
			AddRow("log_api_request", "false"))

	got, err := s.Configurations(context.Background(), "ADR", "prod", "public")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"enable_json_decryption": "true", "log_api_request": "false"}, got)
}

func TestRecordError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into api_error_logs").
		WithArgs("LMS", "", "https://lms/earn", "POST", "[]", "{}", "{}", 401, "lms earn: http 401", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.RecordError(context.Background(), errlog.Entry{
		Company: "LMS", Endpoint: "https://lms/earn", Method: "POST", RequestBody: "[]",
		RequestHeaders: "{}", ResponseBody: "{}", HTTPErrorCode: 401, ErrorMessage: "lms earn: http 401",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEarnAuditLifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into earn").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectExec("update earn set lms_earn_transaction_id").
		WithArgs(int64(31), "E1", 10.0, 0.1, 2.0, 3.0, sql.NullString{String: "Gold", Valid: true}, true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.InsertEarn(context.Background(), lms.EarnRecord{Source: "sftp", UserID: 7, ExternalTransactionID: "X1"})
	require.NoError(t, err)
	assert.Equal(t, int64(31), id)

	require.NoError(t, s.CompleteEarn(context.Background(), id, lms.EarnOutcome{
		TransactionID: "E1", PointsEarned: 10, EarnRate: 0.1, BonusPoints: 2, ReferrerBonusPoints: 3,
		MemberTier: "Gold", TierUpdated: true, CompletedAt: fixedNow,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentAuditLifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into enrollment").
		WithArgs("fallback-job", "U12", sql.NullString{}, sql.NullString{String: "a@aldar.com", Valid: true},
			sql.NullString{String: "971500000000", Valid: true}, sql.NullString{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec("update enrollment set lms_member_id").
		WithArgs(int64(5), "M5", sql.NullString{String: "Active", Valid: true}, sql.NullString{}, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.InsertEnrollment(context.Background(), lms.EnrollmentRecord{
		Source: "fallback-job", ExternalUserID: "U12", Email: "a@aldar.com", MobileNumber: "971500000000",
	})
	require.NoError(t, err)
	require.NoError(t, s.CompleteEnrollment(context.Background(), id, lms.EnrollmentOutcome{
		MemberID: "M5", MemberStatus: "Active", CompletedAt: fixedNow,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryConfigSplitsRecipients(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from sftp_directory_configuration").
		WithArgs("aldredupymnts").
		WillReturnRows(sqlmock.NewRows([]string{"asset", "email_notification_enabled", "email_recipients", "log_encryption_key"}).
			AddRow("Education", true, "a@aldar.com; b@aldar.com;", "ops@aldar.com"))

	cfg, err := s.DirectoryConfig(context.Background(), "aldredupymnts")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@aldar.com", "b@aldar.com"}, cfg.EmailRecipients)
	assert.Equal(t, "ops@aldar.com", cfg.LogEncryptionKey)

	mock.ExpectQuery("from sftp_directory_configuration").WillReturnError(sql.ErrNoRows)
	_, err = s.DirectoryConfig(context.Background(), "unknown")
	assert.ErrorIs(t, err, batchsync.ErrNotFound)
}

func TestInsertAndReadRecords(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("insert into sftp_records")
	prep.ExpectExec().
		WithArgs("aldredupymnts", "EducationPayment", "f.csv", "B1", sql.NullString{String: "a@x.com", Valid: true},
			`{"email":"a@x.com"}`, 0, sql.NullString{}, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InsertRecords(context.Background(), []batchsync.Record{{
		Directory: "aldredupymnts", Kind: "EducationPayment", FileName: "f.csv", BatchID: "B1",
		Email: "a@x.com", Fields: map[string]string{"email": "a@x.com"},
	}}))

	mock.ExpectQuery(regexp.QuoteMeta("and status = 0 order by id")).
		WithArgs("f.csv", "B1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "directory", "record_kind", "file_name", "unique_file_identifier", "email",
			"fields", "status", "points", "lms_transaction_id", "earn_id", "refund_id", "api_response", "details"}).
			AddRow(int64(1), "aldredupymnts", "EducationPayment", "f.csv", "B1", "a@x.com",
				[]byte(`{"email":"a@x.com","school_id":"S1"}`), 0, 0.0, "", int64(0), int64(0), "", ""))

	recs, err := s.Records(context.Background(), "f.csv", "B1", true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0].Fields["school_id"])
	assert.Equal(t, batchsync.StatusPending, recs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRecordsRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("update sftp_records set")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := s.UpdateRecords(context.Background(), []batchsync.RecordUpdate{
		{ID: 1, Status: batchsync.StatusProcessed, Details: "Processed successfully", Points: 5, EarnID: 3},
		{ID: 2, Status: batchsync.StatusError, Details: "Invalid concept id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update record 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesOrderNetValuesLatestWins(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from sftp_records").
		WithArgs("SalesInstalmentPayments", []string{"100", "200"}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).
			AddRow("100", "1000").
			AddRow("100", "1500.5"))

	got, err := s.SalesOrderNetValues(context.Background(), "SalesInstalmentPayments", []string{"100", "200"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"100": 1500.5}, got)
}

func TestBindGroupConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into wlvalidation").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.BindGroup(context.Background(), batchsync.GroupBinding{Company: "ADR", Key: "ADR123456", CustomerID: 5, UserGroup: 2})
	assert.ErrorIs(t, err, batchsync.ErrConflict)
}

func TestRefreshSessions(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update session set refresh_required = true").
		WithArgs("ADR", int64(5), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, s.RefreshSessions(context.Background(), "ADR", 5, fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingEnrollmentsAndMarkEnrolled(t *testing.T) {
	s, mock := newMockStore(t)
	dob := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from users").
		WithArgs(5, 15).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "first_name", "last_name", "email", "membership_id", "mobile_no",
			"referrer_member_id", "country_of_residence", "nationality", "gender", "date_of_birth",
		}).
			AddRow(int64(4), "Sara", "Ali", "s@aldar.com", "ADR-4", "+97150", "", "AE", "AE", "female", dob).
			AddRow(int64(6), "Ziad", "", "z@aldar.com", "", "", "M-1", "", "", "", nil))

	users, err := s.PendingEnrollments(context.Background(), 15, 5)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, dob, users[0].DateOfBirth)
	assert.True(t, users[1].DateOfBirth.IsZero())
	assert.Equal(t, "M-1", users[1].ReferrerMemberID)

	mock.ExpectExec(regexp.QuoteMeta("update users")).
		WithArgs(int64(4), "M-4", "Active", "Silver", true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkEnrolled(context.Background(), 4, usersync.Enrolled{
		MemberID: "M-4", Status: "Active", Tier: "Silver", Active: true,
	}, fixedNow))

	mock.ExpectExec("update users set sync_attempts").
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.IncrementSyncAttempts(context.Background(), 6))

	mock.ExpectExec("update users").
		WithArgs(int64(99), "M-9", "", "", false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Error(t, s.MarkEnrolled(context.Background(), 99, usersync.Enrolled{MemberID: "M-9"}, fixedNow))

	require.NoError(t, mock.ExpectationsWereMet())
}
