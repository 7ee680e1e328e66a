package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-lunch/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- DAYS ----------------

// DayByDate fetches one day record by its calendar date.
func (d *DB) DayByDate(ctx context.Context, date string) (*models.Day, error) {
	var day models.Day
	err := d.Bun.NewSelect().
		Model(&day).
		Where("date = ?", date).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDayNotFound
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (d *DB) DayByID(ctx context.Context, id string) (*models.Day, error) {
	var day models.Day
	err := d.Bun.NewSelect().
		Model(&day).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDayNotFound
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// EnsureDay returns the day for date, creating it with default menu,
// quantity and price if absent. Insert-if-absent semantics: a concurrent
// create of the same date is harmless, the conflicting insert is skipped.
func (d *DB) EnsureDay(ctx context.Context, date string) (*models.Day, error) {
	day := &models.Day{
		ID:        uuid.New().String(),
		Date:      date,
		Menu:      models.DefaultMenu,
		Quantity:  models.DefaultQuantity,
		Price:     models.DefaultPrice,
		CreatedAt: time.Now(),
	}

	_, err := d.Bun.NewInsert().
		Model(day).
		On("CONFLICT (date) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure day: %w", err)
	}

	return d.DayByDate(ctx, date)
}

func (d *DB) ListDays(ctx context.Context) ([]models.Day, error) {
	var days []models.Day
	err := d.Bun.NewSelect().
		Model(&days).
		Order("date DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return days, nil
}

func (d *DB) UpdateQuantity(ctx context.Context, dayID string, quantity int) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Day)(nil)).
		Set("quantity = ?", quantity).
		Where("id = ?", dayID).
		Exec(ctx)
	return err
}

func (d *DB) UpdateMenu(ctx context.Context, dayID string, menu string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Day)(nil)).
		Set("menu = ?", menu).
		Where("id = ?", dayID).
		Exec(ctx)
	return err
}

// ---------------- ORDERS ----------------

// OrderedQuantity sums the portions already claimed against a day.
func (d *DB) OrderedQuantity(ctx context.Context, dayID string) (int, error) {
	var ordered int
	err := d.Bun.NewSelect().
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Model((*models.Order)(nil)).
		Where("day_id = ?", dayID).
		Scan(ctx, &ordered)
	if err != nil {
		return 0, err
	}
	return ordered, nil
}

// InsertOrderChecked admits an order inside a single transaction: insert,
// re-sum the day's claimed portions, and roll back if the sum exceeds the
// day's capacity. Two concurrent orders for the last portion cannot both
// land. The transaction runs serializable; at read committed (postgres)
// neither writer's sum would see the other's uncommitted insert and both
// would pass the capacity check.
func (d *DB) InsertOrderChecked(ctx context.Context, order *models.Order, capacity int) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}

		var ordered int
		err := tx.NewSelect().
			ColumnExpr("COALESCE(SUM(quantity), 0)").
			Model((*models.Order)(nil)).
			Where("day_id = ?", order.DayID).
			Scan(ctx, &ordered)
		if err != nil {
			return err
		}

		if ordered > capacity {
			return models.ErrInsufficientCapacity
		}
		return nil
	})
}

func (d *DB) OrdersForDay(ctx context.Context, dayID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("day_id = ?", dayID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (d *DB) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder writes an admin correction to name, quantity and description.
func (d *DB) UpdateOrder(ctx context.Context, order *models.Order) error {
	res, err := d.Bun.NewUpdate().
		Model(order).
		Column("customer_name", "match_key", "quantity", "description").
		Where("id = ?", order.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

func (d *DB) DeleteOrder(ctx context.Context, id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Order)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
