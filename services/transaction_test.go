package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
)

// MockTransactionManager is a mock implementation of TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return m.Called(ctx, fn).Error(0)
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
	ctx        context.Context
	committed  bool
	rolledback bool
}

func (m *MockTransaction) Commit() error {
	m.committed = true
	return m.Called().Error(0)
}

func (m *MockTransaction) Rollback() error {
	m.rolledback = true
	return m.Called().Error(0)
}

func (m *MockTransaction) Context() context.Context {
	return m.ctx
}

type txKey struct{}

// inTx matches contexts carrying the mock transaction
var inTx = mock.MatchedBy(func(ctx context.Context) bool {
	return ctx.Value(txKey{}) == "tx-1"
})

func TestAuthService_RegisterTransaction(t *testing.T) {
	req := RegisterRequest{Name: "Xavier", Email: "x@example.com", Password: "correct-horse-battery"}

	tests := []struct {
		name        string
		beginErr    error
		setupRepo   func(repo *MockPrincipalRepository)
		setupTx     func(tx *MockTransaction)
		wantErr     error
		wantType    ErrorType
		errContains string
		committed   bool
		rolledback  bool
	}{
		{
			name: "duplicate check and insert commit together",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(false, nil)
				repo.On("Create", inTx, mock.AnythingOfType("*models.Account")).Return(nil)
			},
			setupTx:   func(tx *MockTransaction) { tx.On("Commit").Return(nil) },
			committed: true,
		},
		{
			name: "existing email rolls back without inserting",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(true, nil)
			},
			setupTx:    func(tx *MockTransaction) { tx.On("Rollback").Return(nil) },
			wantErr:    ErrDuplicateEmail,
			wantType:   ErrorTypeConflict,
			rolledback: true,
		},
		{
			name: "unique violation on insert is a conflict",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(false, nil)
				repo.On("Create", inTx, mock.Anything).Return(repositories.ErrDuplicate)
			},
			setupTx:    func(tx *MockTransaction) { tx.On("Rollback").Return(nil) },
			wantErr:    ErrDuplicateEmail,
			wantType:   ErrorTypeConflict,
			rolledback: true,
		},
		{
			name: "store failure rolls back and is internal",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(false, nil)
				repo.On("Create", inTx, mock.Anything).Return(errors.New("disk full"))
			},
			setupTx:    func(tx *MockTransaction) { tx.On("Rollback").Return(nil) },
			wantType:   ErrorTypeInternal,
			rolledback: true,
		},
		{
			name: "failed rollback keeps the duplicate error",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(true, nil)
			},
			setupTx:     func(tx *MockTransaction) { tx.On("Rollback").Return(errors.New("conn closed")) },
			wantErr:     ErrDuplicateEmail,
			wantType:    ErrorTypeConflict,
			errContains: "rollback error",
			rolledback:  true,
		},
		{
			name:        "begin failure is internal",
			beginErr:    errors.New("too many connections"),
			setupRepo:   func(repo *MockPrincipalRepository) {},
			setupTx:     func(tx *MockTransaction) {},
			wantType:    ErrorTypeInternal,
			errContains: "failed to begin transaction",
		},
		{
			name: "commit failure is internal",
			setupRepo: func(repo *MockPrincipalRepository) {
				repo.On("EmailExists", inTx, "x@example.com").Return(false, nil)
				repo.On("Create", inTx, mock.Anything).Return(nil)
			},
			setupTx:     func(tx *MockTransaction) { tx.On("Commit").Return(errors.New("serialization failure")) },
			wantType:    ErrorTypeInternal,
			errContains: "failed to commit transaction",
			committed:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			repo := new(MockPrincipalRepository)
			tt.setupRepo(repo)
			f.svc.principals = repo

			txMgr := new(MockTransactionManager)
			tx := &MockTransaction{ctx: context.WithValue(context.Background(), txKey{}, "tx-1")}
			tt.setupTx(tx)
			if tt.beginErr != nil {
				txMgr.On("Begin", mock.Anything).Return(nil, tt.beginErr)
			} else {
				txMgr.On("Begin", mock.Anything).Return(tx, nil)
			}
			f.svc.txMgr = txMgr

			result, err := f.svc.Register(context.Background(), req)

			assert.Equal(t, tt.committed, tx.committed)
			assert.Equal(t, tt.rolledback, tx.rolledback)
			repo.AssertExpectations(t)
			tx.AssertExpectations(t)
			txMgr.AssertExpectations(t)

			if tt.wantType == "" {
				require.NoError(t, err)
				assert.Equal(t, models.RoleUser, result.Principal.Role)
				assert.Equal(t, 1, f.registry.Len())
				return
			}

			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, 0, f.registry.Len(), "no tokens for a failed registration")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			var domainErr *DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.wantType, domainErr.Type)
			if tt.errContains != "" {
				assert.Contains(t, err.Error(), tt.errContains)
			}
		})
	}

	t.Run("panicking store rolls back and re-panics", func(t *testing.T) {
		f := newAuthFixture(t)
		repo := new(MockPrincipalRepository)
		repo.On("EmailExists", mock.Anything, "x@example.com").Return(false, nil)
		repo.On("Create", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("driver bug") })
		f.svc.principals = repo

		txMgr := new(MockTransactionManager)
		tx := new(MockTransaction)
		tx.On("Rollback").Return(nil)
		txMgr.On("Begin", mock.Anything).Return(tx, nil)
		f.svc.txMgr = txMgr

		assert.PanicsWithValue(t, "driver bug", func() {
			_, _ = f.svc.Register(context.Background(), req)
		})
		assert.True(t, tx.rolledback)
		assert.False(t, tx.committed)
		assert.Equal(t, 0, f.registry.Len())
	})
}
