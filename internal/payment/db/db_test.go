package db_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-lunch/internal/database"
	invdb "ms-lunch/internal/inventory/db"
	"ms-lunch/internal/models"
	paydb "ms-lunch/internal/payment/db"
)

func setupTestDB(t *testing.T) (*paydb.DB, *invdb.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.Migrate(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	return &paydb.DB{Bun: bunDB}, &invdb.DB{Bun: bunDB}
}

func newRequest(orderCode int64, dayID string) *models.PaymentRequest {
	now := time.Now()
	return &models.PaymentRequest{
		ID:           uuid.New().String(),
		DayID:        dayID,
		CustomerName: "Anh Van",
		MatchKey:     "anhvan",
		OrderCode:    orderCode,
		Amount:       80000,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newPaidTxn(orderCode int64, dayID string, amount int64) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		ID:              uuid.New().String(),
		DayID:           dayID,
		CustomerName:    "Anh Van",
		MatchKey:        "anhvan",
		OrderCode:       orderCode,
		Amount:          amount,
		Status:          models.StatusPaid,
		Reference:       "FT123",
		TransactionDate: time.Now(),
		CreatedAt:       time.Now(),
	}
}

func TestRequestByOrderCode(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	req := newRequest(1001, day.ID)
	require.NoError(t, payDB.InsertRequest(ctx, req))

	got, err := payDB.RequestByOrderCode(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = payDB.RequestByOrderCode(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestListPendingOldestFirst(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i, code := range []int64{3001, 3002, 3003} {
		req := newRequest(code, day.ID)
		req.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, payDB.InsertRequest(ctx, req))
	}
	paid := newRequest(3004, day.ID)
	paid.Status = models.StatusPaid
	require.NoError(t, payDB.InsertRequest(ctx, paid))

	reqs, err := payDB.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(3001), reqs[0].OrderCode)
	assert.Equal(t, int64(3002), reqs[1].OrderCode)
}

func TestUpdateStatusTerminalIsImmutable(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	require.NoError(t, payDB.InsertRequest(ctx, newRequest(2001, day.ID)))

	rows, err := payDB.UpdateStatus(ctx, 2001, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// Re-applying the same terminal status is idempotent.
	rows, err = payDB.UpdateStatus(ctx, 2001, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// A different transition out of a terminal state matches nothing.
	rows, err = payDB.UpdateStatus(ctx, 2001, models.StatusExpired)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	got, err := payDB.RequestByOrderCode(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	rows, err = payDB.UpdateStatus(ctx, 404404, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestCommitPaidDeduplicates(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	require.NoError(t, payDB.InsertRequest(ctx, newRequest(5001, day.ID)))

	inserted, err := payDB.CommitPaid(ctx, newPaidTxn(5001, day.ID, 80000))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second confirmation for the same code lands on the unique index.
	inserted, err = payDB.CommitPaid(ctx, newPaidTxn(5001, day.ID, 80000))
	require.NoError(t, err)
	assert.False(t, inserted)

	txns, err := payDB.TransactionsByMatchKey(ctx, "anhvan")
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	req, err := payDB.RequestByOrderCode(ctx, 5001)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, req.Status)
}

func TestCommitPaidConcurrentConfirmations(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	require.NoError(t, payDB.InsertRequest(ctx, newRequest(6001, day.ID)))

	// Webhook, return URL and sweep racing on the same confirmation.
	const channels = 5
	var wg sync.WaitGroup
	insertedCount := make(chan bool, channels)
	for i := 0; i < channels; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := payDB.CommitPaid(ctx, newPaidTxn(6001, day.ID, 80000))
			assert.NoError(t, err)
			insertedCount <- inserted
		}()
	}
	wg.Wait()
	close(insertedCount)

	wins := 0
	for inserted := range insertedCount {
		if inserted {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one confirmation inserts the ledger row")

	txns, err := payDB.TransactionsByMatchKey(ctx, "anhvan")
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestSumOwedAndPaid(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day1, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	day2, err := invDB.EnsureDay(ctx, "2024-01-02")
	require.NoError(t, err)

	for _, o := range []struct {
		dayID string
		qty   int
	}{{day1.ID, 3}, {day1.ID, 2}, {day2.ID, 1}} {
		require.NoError(t, invDB.InsertOrderChecked(ctx, &models.Order{
			ID:           uuid.New().String(),
			DayID:        o.dayID,
			CustomerName: "Anh Van",
			MatchKey:     "anhvan",
			Quantity:     o.qty,
			CreatedAt:    time.Now(),
		}, models.DefaultQuantity))
	}

	all, err := payDB.SumOwed(ctx, "anhvan", "")
	require.NoError(t, err)
	assert.Equal(t, 6, all.Quantity)
	assert.Equal(t, int64(6*models.DefaultPrice), all.Total)

	today, err := payDB.SumOwed(ctx, "anhvan", day2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, today.Quantity)
	assert.Equal(t, int64(models.DefaultPrice), today.Total)

	none, err := payDB.SumOwed(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Equal(t, 0, none.Quantity)
	assert.Equal(t, int64(0), none.Total)

	txn1 := newPaidTxn(7001, day1.ID, 80000)
	txn2 := newPaidTxn(7002, day2.ID, 40000)
	_, err = payDB.CommitPaid(ctx, txn1)
	require.NoError(t, err)
	_, err = payDB.CommitPaid(ctx, txn2)
	require.NoError(t, err)

	paid, err := payDB.SumPaid(ctx, "anhvan", "")
	require.NoError(t, err)
	assert.Equal(t, int64(120000), paid)

	paidToday, err := payDB.SumPaid(ctx, "anhvan", day2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), paidToday)
}

func TestGroupOwedWithSearch(t *testing.T) {
	payDB, invDB := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	for _, o := range []struct {
		name string
		key  string
		qty  int
	}{
		{"Anh Van", "anhvan", 3},
		{"Anh Van", "anhvan", 2},
		{"Binh Minh", "binhminh", 1},
	} {
		require.NoError(t, invDB.InsertOrderChecked(ctx, &models.Order{
			ID:           uuid.New().String(),
			DayID:        day.ID,
			CustomerName: o.name,
			MatchKey:     o.key,
			Quantity:     o.qty,
			CreatedAt:    time.Now(),
		}, models.DefaultQuantity))
	}

	rows, err := payDB.GroupOwed(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byKey := map[string]paydb.CustomerOwedRow{}
	for _, r := range rows {
		byKey[r.MatchKey] = r
	}
	assert.Equal(t, 5, byKey["anhvan"].Quantity)
	assert.Equal(t, int64(5*models.DefaultPrice), byKey["anhvan"].Total)
	assert.Equal(t, 1, byKey["binhminh"].Quantity)

	filtered, err := payDB.GroupOwed(ctx, "", "binh")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "binhminh", filtered[0].MatchKey)

	// LIKE metacharacters in the search match literally, not as wildcards.
	for _, search := range []string{"%", "_", "b%h", "\\"} {
		rows, err := payDB.GroupOwed(ctx, "", search)
		require.NoError(t, err)
		assert.Empty(t, rows, "search %q", search)
	}
}
