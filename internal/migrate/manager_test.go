package migrate

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatementsKeepsDollarBodies(t *testing.T) {
	src := `create table a (x text default 'a;b'); -- note; here
create procedure p(t text) language plpgsql as $$
begin
    insert into a values (t);
end;
$$;
select $1::int;`
	stmts := splitStatements(src)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "'a;b'")
	assert.Contains(t, stmts[1], "-- note; here")
	assert.Contains(t, stmts[1], "insert into a values (t);\nend;\n$$;")
	assert.Equal(t, "\nselect $1::int;", stmts[2])
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"sql/0002_b.up.sql":   {Data: []byte("create table b (id int);")},
		"sql/0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"sql/0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	mgr := NewManager(db, fsys, "sql", "seeds")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, mgr.Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"sql/0002_b.up.sql": {Data: []byte("create table b (id int);")}}
	mgr := NewManager(db, fsys, "sql", "")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0002_b.up.sql"))

	err = mgr.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing down migration for 0002_b.up.sql")
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(fstest.MapFS{}, "seeds", ".sql")
	require.NoError(t, err)
	assert.Empty(t, files)
}
