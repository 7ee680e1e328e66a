package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-lunch/internal/models"
)

// Migrate creates the schema if it does not exist. The unique index on
// payment_transactions (order_code, status) is the reconciliation engine's
// dedup invariant and must be enforced by the database, not the application:
// webhook, return-URL and sweep confirmations can race.
func Migrate(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Day)(nil),
		(*models.Order)(nil),
		(*models.PaymentRequest)(nil),
		(*models.PaymentTransaction)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*models.PaymentTransaction)(nil)).
			Index("idx_payment_transactions_dedup").
			Unique().
			Column("order_code", "status").
			IfNotExists(),
		db.NewCreateIndex().
			Model((*models.Order)(nil)).
			Index("idx_orders_match_key").
			Column("match_key").
			IfNotExists(),
		db.NewCreateIndex().
			Model((*models.Order)(nil)).
			Index("idx_orders_day_id").
			Column("day_id").
			IfNotExists(),
		db.NewCreateIndex().
			Model((*models.PaymentTransaction)(nil)).
			Index("idx_payment_transactions_match_key").
			Column("match_key").
			IfNotExists(),
		db.NewCreateIndex().
			Model((*models.PaymentRequest)(nil)).
			Index("idx_payment_requests_status").
			Column("status", "created_at").
			IfNotExists(),
	}

	for _, idx := range indexes {
		if _, err := idx.Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}
