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
	"ms-lunch/internal/inventory/db"
	"ms-lunch/internal/models"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.Migrate(context.Background(), bunDB))

	t.Cleanup(func() { bunDB.Close() })
	return &db.DB{Bun: bunDB}, bunDB
}

func TestEnsureDayIsIdempotent(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	first, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Equal(t, models.DefaultQuantity, first.Quantity)
	assert.Equal(t, int64(models.DefaultPrice), first.Price)
	assert.Equal(t, models.DefaultMenu, first.Menu)

	second, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	days, err := invDB.ListDays(ctx)
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestOrderedQuantity(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	ordered, err := invDB.OrderedQuantity(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ordered)

	for _, qty := range []int{3, 2} {
		err = invDB.InsertOrderChecked(ctx, &models.Order{
			ID:           uuid.New().String(),
			DayID:        day.ID,
			CustomerName: "Anh Van",
			MatchKey:     "anhvan",
			Quantity:     qty,
			CreatedAt:    time.Now(),
		}, day.Quantity)
		require.NoError(t, err)
	}

	ordered, err = invDB.OrderedQuantity(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, ordered)
}

func TestInsertOrderCheckedRejectsOverCapacity(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	err = invDB.InsertOrderChecked(ctx, &models.Order{
		ID:           uuid.New().String(),
		DayID:        day.ID,
		CustomerName: "Anh Van",
		MatchKey:     "anhvan",
		Quantity:     day.Quantity + 1,
		CreatedAt:    time.Now(),
	}, day.Quantity)
	assert.ErrorIs(t, err, models.ErrInsufficientCapacity)

	// The rejected insert rolled back; nothing was admitted.
	ordered, err := invDB.OrderedQuantity(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ordered)
}

func TestInsertOrderCheckedConcurrentLastPortion(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	// Both claims would individually pass a naive read-then-insert check
	// against remaining=10. Exactly one must be admitted.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = invDB.InsertOrderChecked(ctx, &models.Order{
				ID:           uuid.New().String(),
				DayID:        day.ID,
				CustomerName: "Anh Van",
				MatchKey:     "anhvan",
				Quantity:     day.Quantity,
				CreatedAt:    time.Now(),
			}, day.Quantity)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, models.ErrInsufficientCapacity)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one concurrent claim must be rejected")

	ordered, err := invDB.OrderedQuantity(ctx, day.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, ordered, day.Quantity)
}

func TestUpdateAndDeleteOrder(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	order := &models.Order{
		ID:           uuid.New().String(),
		DayID:        day.ID,
		CustomerName: "Anh Van",
		MatchKey:     "anhvan",
		Quantity:     2,
		Description:  "it com",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, invDB.InsertOrderChecked(ctx, order, day.Quantity))

	order.CustomerName = "Binh Minh"
	order.MatchKey = "binhminh"
	order.Quantity = 3
	require.NoError(t, invDB.UpdateOrder(ctx, order))

	got, err := invDB.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Binh Minh", got.CustomerName)
	assert.Equal(t, 3, got.Quantity)
	assert.Equal(t, "it com", got.Description)

	require.NoError(t, invDB.DeleteOrder(ctx, order.ID))
	_, err = invDB.OrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	// Updating a deleted order affects zero rows.
	err = invDB.UpdateOrder(ctx, order)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestDayAdminOverrides(t *testing.T) {
	invDB, _ := setupTestDB(t)
	ctx := context.Background()

	day, err := invDB.EnsureDay(ctx, "2024-01-01")
	require.NoError(t, err)

	require.NoError(t, invDB.UpdateQuantity(ctx, day.ID, 25))
	require.NoError(t, invDB.UpdateMenu(ctx, day.ID, `{"main":"Bún chả"}`))

	got, err := invDB.DayByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 25, got.Quantity)

	menu, ok := got.MenuPayload().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Bún chả", menu["main"])
}
