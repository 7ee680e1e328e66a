package inventory_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-lunch/internal/database"
	"ms-lunch/internal/inventory"
	invdb "ms-lunch/internal/inventory/db"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
)

type capturedEvents struct {
	mu     sync.Mutex
	orders []models.Order
}

func (c *capturedEvents) PublishOrderCreated(order models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, order)
	return nil
}

func setupService(t *testing.T) (*inventory.Service, *capturedEvents) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.Migrate(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	events := &capturedEvents{}
	svc := inventory.NewService(&invdb.DB{Bun: bunDB}, events, nil, logger.NewLogger())
	return svc, events
}

func TestTodayInfoCreatesDayWithDefaults(t *testing.T) {
	svc, _ := setupService(t)

	info, err := svc.TodayInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, inventory.DateString(time.Now()), info.Date)
	assert.Equal(t, models.DefaultQuantity, info.Quantity)
	assert.Equal(t, models.DefaultQuantity, info.Remaining)
	assert.Equal(t, 0, info.Ordered)
	assert.Equal(t, int64(models.DefaultPrice), info.Price)
	assert.Equal(t, models.DefaultMenu, info.Menu)
}

func TestAdmitOrderNormalizesAndPublishes(t *testing.T) {
	svc, events := setupService(t)
	ctx := context.Background()

	order, err := svc.AdmitOrder(ctx, models.OrderRequest{
		Name:        "  anh   van  ",
		Quantity:    2,
		Description: "them ot",
	})
	require.NoError(t, err)
	assert.Equal(t, "Anh Van", order.CustomerName)
	assert.Equal(t, "anhvan", order.MatchKey)

	info, err := svc.TodayInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Ordered)
	assert.Equal(t, models.DefaultQuantity-2, info.Remaining)

	require.Len(t, events.orders, 1)
	assert.Equal(t, order.ID, events.orders[0].ID)
}

func TestAdmitOrderValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AdmitOrder(ctx, models.OrderRequest{Name: "   ", Quantity: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: 0})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: -3})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAdmitOrderRejectsWhenSoldOut(t *testing.T) {
	svc, events := setupService(t)
	ctx := context.Background()

	_, err := svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: models.DefaultQuantity})
	require.NoError(t, err)

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Binh Minh", Quantity: 1})
	assert.ErrorIs(t, err, models.ErrInsufficientCapacity)

	// The rejected order published no event.
	assert.Len(t, events.orders, 1)

	info, err := svc.TodayInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Remaining)
}

func TestSetQuantityReopensAdmission(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	day, err := svc.EnsureToday(ctx)
	require.NoError(t, err)

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: models.DefaultQuantity})
	require.NoError(t, err)

	require.NoError(t, svc.SetQuantity(ctx, day.ID, models.DefaultQuantity+5))

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Binh Minh", Quantity: 5})
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.SetQuantity(ctx, day.ID, -1), models.ErrInvalidInput)
}

func TestRemainingFloorsAtZero(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	day, err := svc.EnsureToday(ctx)
	require.NoError(t, err)

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: 8})
	require.NoError(t, err)

	// Lowering capacity below what is already claimed must not go negative.
	require.NoError(t, svc.SetQuantity(ctx, day.ID, 5))

	remaining, err := svc.Remaining(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestEditOrderRenormalizesName(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	order, err := svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: 1})
	require.NoError(t, err)

	newName := "  binh   MINH "
	newQty := 3
	updated, err := svc.EditOrder(ctx, order.ID, models.OrderUpdate{Name: &newName, Quantity: &newQty})
	require.NoError(t, err)
	assert.Equal(t, "Binh Minh", updated.CustomerName)
	assert.Equal(t, "binhminh", updated.MatchKey)
	assert.Equal(t, 3, updated.Quantity)

	_, err = svc.EditOrder(ctx, "missing-id", models.OrderUpdate{Quantity: &newQty})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestDeleteOrderReleasesPortions(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	order, err := svc.AdmitOrder(ctx, models.OrderRequest{Name: "Anh Van", Quantity: models.DefaultQuantity})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOrder(ctx, order.ID))

	_, err = svc.AdmitOrder(ctx, models.OrderRequest{Name: "Binh Minh", Quantity: 1})
	assert.NoError(t, err)
}

func TestDayDetailsUnknownDate(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.DayDetails(context.Background(), "1999-01-01")
	assert.ErrorIs(t, err, models.ErrDayNotFound)
}
