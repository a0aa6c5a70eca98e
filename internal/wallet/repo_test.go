package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  amount_toman INTEGER NOT NULL,
  description TEXT NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	require.NoError(t, db.Exec("DELETE FROM wallet_transactions").Error)
	return db
}

func TestBalanceSumsCreditsAndDebits(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.Credit(context.Background(), userID, nil, 50000, "refund for returned order")
	require.NoError(t, err)
	_, err = repo.Credit(context.Background(), userID, nil, 20000, "goodwill credit")
	require.NoError(t, err)
	_, err = repo.Debit(context.Background(), userID, nil, 30000, "spent at checkout")
	require.NoError(t, err)

	balance, err := repo.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(40000), balance)

	// Another user's ledger is untouched.
	other, err := repo.Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Zero(t, other)
}

func TestDebitRejectsOverdraw(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.Credit(context.Background(), userID, nil, 10000, "refund")
	require.NoError(t, err)

	_, err = repo.Debit(context.Background(), userID, nil, 10001, "overdraw attempt")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	balance, err := repo.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)

	_, err := repo.Credit(context.Background(), uuid.New(), nil, 0, "zero")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestListPaginates(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := repo.Credit(context.Background(), userID, nil, 1000, "credit")
		require.NoError(t, err)
	}

	page, err := repo.List(context.Background(), userID, pagination.Params{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, int64(5), page.Total)

	page, err = repo.List(context.Background(), userID, pagination.Params{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}
