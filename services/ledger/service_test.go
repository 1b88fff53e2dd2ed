package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewpoints-platform/pkg/db/pagination"
	"reviewpoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Balance{}, &Transaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func seedAccount(t *testing.T, svc *Service, accountID string, points int64) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, svc.CreateBalance(ctx, nil, accountID))
	if points > 0 {
		_, err := svc.AdminAdjust(ctx, AdjustParams{
			AccountID:   accountID,
			Delta:       points,
			Description: "seed",
			ActorID:     "op-1",
		})
		require.NoError(t, err)
	}
}

func TestReserveInsufficientBalance(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 10)

	_, err := svc.Reserve(context.Background(), nil, EntryParams{
		AccountID: "acc-1",
		Amount:    50,
		ActorID:   "acc-1",
	})

	var insufficient InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(50), insufficient.Requested)
	require.Equal(t, int64(10), insufficient.Available)

	// the failed attempt must leave no trace
	balance, err := svc.GetBalance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.AvailablePoints)
	require.Equal(t, int64(0), balance.PendingPoints)

	entries, _, err := svc.ListTransactions(context.Background(), ListQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1) // the seed adjustment only
}

func TestReserveFinalizeRoundTrip(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, nil, EntryParams{
		AccountID:   "acc-1",
		Amount:      30,
		ActorID:     "acc-1",
		ReferenceID: "sub-1",
	})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(70), balance.AvailablePoints)
	require.Equal(t, int64(30), balance.PendingPoints)

	_, err = svc.Finalize(ctx, nil, EntryParams{
		AccountID:   "acc-1",
		Amount:      30,
		ActorID:     "op-1",
		ReferenceID: "sub-1",
	})
	require.NoError(t, err)

	balance, err = svc.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(70), balance.AvailablePoints)
	require.Equal(t, int64(0), balance.PendingPoints)
	require.Equal(t, int64(100), balance.TotalEarned)
	require.Equal(t, int64(30), balance.TotalSpent)
}

func TestReleaseRestoresAvailable(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 40, ActorID: "acc-1"})
	require.NoError(t, err)

	_, err = svc.Release(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 40, ActorID: "op-1"})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.AvailablePoints)
	require.Equal(t, int64(0), balance.PendingPoints)
	require.Equal(t, int64(0), balance.TotalSpent)
}

func TestFinalizeWithoutReservation(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)

	_, err := svc.Finalize(context.Background(), nil, EntryParams{
		AccountID: "acc-1",
		Amount:    30,
		ActorID:   "op-1",
	})

	var mismatch ReservationMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(0), mismatch.Pending)
}

func TestAdminAdjustBelowZero(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 20)

	_, err := svc.AdminAdjust(context.Background(), AdjustParams{
		AccountID: "acc-1",
		Delta:     -50,
		ActorID:   "op-1",
	})

	var insufficient InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	balance, err := svc.GetBalance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.AvailablePoints)
}

func TestAdminAdjustZeroDelta(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 0)

	_, err := svc.AdminAdjust(context.Background(), AdjustParams{AccountID: "acc-1", ActorID: "op-1"})
	require.Error(t, err)
}

func TestTransferMovesPointsBetweenAccounts(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "dist-1", 200)
	seedAccount(t, svc, "adv-1", 0)
	ctx := context.Background()

	err := svc.Transfer(ctx, TransferParams{
		FromAccountID: "dist-1",
		ToAccountID:   "adv-1",
		Amount:        80,
		ActorID:       "dist-1",
	})
	require.NoError(t, err)

	from, err := svc.GetBalance(ctx, "dist-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), from.AvailablePoints)

	to, err := svc.GetBalance(ctx, "adv-1")
	require.NoError(t, err)
	require.Equal(t, int64(80), to.AvailablePoints)
}

func TestTransferInsufficientLeavesBothUntouched(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "dist-1", 50)
	seedAccount(t, svc, "adv-1", 0)
	ctx := context.Background()

	err := svc.Transfer(ctx, TransferParams{
		FromAccountID: "dist-1",
		ToAccountID:   "adv-1",
		Amount:        80,
		ActorID:       "dist-1",
	})

	var insufficient InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	from, err := svc.GetBalance(ctx, "dist-1")
	require.NoError(t, err)
	require.Equal(t, int64(50), from.AvailablePoints)

	to, err := svc.GetBalance(ctx, "adv-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), to.AvailablePoints)

	entries, _, err := svc.ListTransactions(ctx, ListQuery{AccountID: "adv-1"})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListTransactionsPagination(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Earn(ctx, EarnParams{
			AccountID: "acc-1",
			Amount:    10,
			ActorID:   "op-1",
		})
		require.NoError(t, err)
	}

	var seen []string
	cursor := ""
	for {
		entries, page, err := svc.ListTransactions(ctx, ListQuery{
			AccountID:  "acc-1",
			Pagination: pagination.Pagination{Cursor: cursor, Limit: 2},
		})
		require.NoError(t, err)
		for _, entry := range entries {
			seen = append(seen, entry.ID)
		}
		if page == nil || !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, seen, 5)
	unique := map[string]bool{}
	for _, id := range seen {
		unique[id] = true
	}
	require.Len(t, unique, 5)
}

func TestVerifyChain(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 30, ActorID: "acc-1"})
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 30, ActorID: "op-1"})
	require.NoError(t, err)

	result, err := svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.Entries)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	entries, _, err := svc.ListTransactions(ctx, ListQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// rewrite history behind the service's back
	err = svc.db.Model(&Transaction{}).
		Where("id = ?", entries[0].ID).
		Update("amount", 999).Error
	require.NoError(t, err)

	result, err := svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Contains(t, result.Reason, "hash mismatch")
}

func TestVerifyChainSurvivesTimestampRounding(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 30, ActorID: "acc-1"})
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, nil, EntryParams{AccountID: "acc-1", Amount: 30, ActorID: "op-1"})
	require.NoError(t, err)

	// postgres stores timestamptz at microsecond precision; rewrite each
	// stored created_at the way that round-trip would
	entries, _, err := svc.ListTransactions(ctx, ListQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	for _, entry := range entries {
		err = svc.db.Model(&Transaction{}).
			Where("id = ?", entry.ID).
			Update("created_at", entry.CreatedAt.Truncate(time.Microsecond)).Error
		require.NoError(t, err)
	}

	result, err := svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.Entries)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	svc := newTestService(t)
	seedAccount(t, svc, "acc-1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(ctx, nil, EntryParams{
				AccountID: "acc-1",
				Amount:    80,
				ActorID:   "acc-1",
			})
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient InsufficientBalanceError
		if errors.As(err, &insufficient) {
			failed++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)

	balance, err := svc.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.AvailablePoints)
	require.Equal(t, int64(80), balance.PendingPoints)

	result, err := svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, result.Valid)
}
