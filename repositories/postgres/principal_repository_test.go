package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var accountColumns = []string{"id", "name", "email", "password_hash", "created_at", "updated_at"}

func TestPrincipalRepository_Create(t *testing.T) {
	t.Run("inserts into the table for the role", func(t *testing.T) {
		for _, tc := range []struct {
			role  models.Role
			table string
		}{
			{models.RoleUser, "users"},
			{models.RoleAdmin, "admins"},
		} {
			db, mock := newMockDB(t)
			repo := NewPrincipalRepository(db, zap.NewNop())
			account := models.NewAccount("Ana", "ana@example.com", tc.role, "hash")

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO "+tc.table)).
				WithArgs(account.ID, "Ana", "ana@example.com", "hash", account.CreatedAt, account.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, repo.Create(context.Background(), account))
			assert.NoError(t, mock.ExpectationsWereMet())
		}
	})

	t.Run("unique violation maps to ErrDuplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())
		account := models.NewAccount("Ana", "ana@example.com", models.RoleUser, "hash")

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: uniqueViolation})

		err := repo.Create(context.Background(), account)
		assert.ErrorIs(t, err, repositories.ErrDuplicate)
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())

		err := repo.Create(context.Background(), models.NewAccount("x", "x@example.com", "root", "hash"))
		assert.Error(t, err)
	})
}

func TestPrincipalRepository_GetByID(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	t.Run("admin lookup reads the admins table", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM admins")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(accountColumns).
				AddRow(id.String(), "Root", "root@example.com", "hash", now, now))

		account, err := repo.GetByID(context.Background(), id, models.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, id, account.ID)
		assert.Equal(t, models.RoleAdmin, account.Role)
		assert.Equal(t, "root@example.com", account.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := repo.GetByID(context.Background(), id, models.RoleUser)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("query failure is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())
		boom := errors.New("connection reset")

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).WillReturnError(boom)

		_, err := repo.GetByID(context.Background(), id, models.RoleUser)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestPrincipalRepository_GetByEmail(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	t.Run("returns the role from the matching table", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("UNION ALL")).
			WithArgs("ana@example.com").
			WillReturnRows(sqlmock.NewRows(append(accountColumns, "role")).
				AddRow(id.String(), "Ana", "ana@example.com", "hash", now, now, "user"))

		account, err := repo.GetByEmail(context.Background(), "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, account.Role)
		assert.Equal(t, "hash", account.PasswordHash)
	})

	t.Run("unknown email maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPrincipalRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("UNION ALL")).
			WithArgs("nobody@example.com").
			WillReturnRows(sqlmock.NewRows(append(accountColumns, "role")))

		_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestPrincipalRepository_EmailExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPrincipalRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.EmailExists(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("repository calls join the transaction and commit", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())
		repo := NewPrincipalRepository(db, zap.NewNop())
		account := models.NewAccount("Ana", "ana@example.com", models.RoleUser, "hash")

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := txMgr.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
			exists, err := repo.EmailExists(ctx, account.Email)
			if err != nil || exists {
				return errors.New("unexpected")
			}
			return repo.Create(ctx, account)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		txMgr := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := txMgr.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS admins")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
