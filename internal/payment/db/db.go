package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-lunch/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- PAYMENT REQUESTS ----------------

func (d *DB) InsertRequest(ctx context.Context, req *models.PaymentRequest) error {
	_, err := d.Bun.NewInsert().Model(req).Exec(ctx)
	return err
}

func (d *DB) RequestByOrderCode(ctx context.Context, orderCode int64) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	err := d.Bun.NewSelect().
		Model(&req).
		Where("order_code = ?", orderCode).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListPending returns up to limit PENDING requests, oldest first, so the
// reconciliation sweep works through the longest-outstanding ones.
func (d *DB) ListPending(ctx context.Context, limit int) ([]models.PaymentRequest, error) {
	var reqs []models.PaymentRequest
	err := d.Bun.NewSelect().
		Model(&reqs).
		Where("status = ?", models.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []models.PaymentRequest{}
	}
	return reqs, nil
}

// UpdateStatus transitions a request's status. Terminal states are
// immutable: the update only matches rows still PENDING, or rows already at
// the target status (idempotent re-apply). Returns rows affected; zero is
// the caller's signal that the code was unknown or the request terminal.
func (d *DB) UpdateStatus(ctx context.Context, orderCode int64, status models.RequestStatus) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.PaymentRequest)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("order_code = ?", orderCode).
		Where("status IN (?, ?)", models.StatusPending, status).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------- PAYMENT TRANSACTIONS ----------------

// CommitPaid writes the PAID ledger entry and flips the request to PAID in
// one transaction. The insert is a no-op when a row with the same
// (order_code, status) already exists; the unique index makes concurrent
// confirmations for the same code collapse into a single ledger row.
// Returns whether this call inserted the row.
func (d *DB) CommitPaid(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	var inserted bool
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(txn).
			On("CONFLICT (order_code, status) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		inserted = rows > 0

		_, err = tx.NewUpdate().
			Model((*models.PaymentRequest)(nil)).
			Set("status = ?", models.StatusPaid).
			Set("updated_at = ?", time.Now()).
			Where("order_code = ?", txn.OrderCode).
			Where("status IN (?, ?)", models.StatusPending, models.StatusPaid).
			Exec(ctx)
		return err
	})
	return inserted, err
}

func (d *DB) TransactionsByMatchKey(ctx context.Context, matchKey string) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := d.Bun.NewSelect().
		Model(&txns).
		Where("match_key = ?", matchKey).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// ---------------- AGGREGATES ----------------

// OwedTotals is the summed order side of a customer's balance.
type OwedTotals struct {
	Quantity int   `bun:"quantity"`
	Total    int64 `bun:"total"`
}

// SumOwed totals a customer's ordered portions and their cost, optionally
// restricted to one day.
func (d *DB) SumOwed(ctx context.Context, matchKey, dayID string) (*OwedTotals, error) {
	q := d.Bun.NewSelect().
		ColumnExpr("COALESCE(SUM(o.quantity), 0) AS quantity").
		ColumnExpr("COALESCE(SUM(o.quantity * d.price), 0) AS total").
		TableExpr("orders AS o").
		Join("JOIN days AS d ON d.id = o.day_id").
		Where("o.match_key = ?", matchKey)
	if dayID != "" {
		q = q.Where("o.day_id = ?", dayID)
	}

	var totals OwedTotals
	if err := q.Scan(ctx, &totals); err != nil {
		return nil, err
	}
	return &totals, nil
}

// SumPaid totals a customer's PAID ledger entries, optionally restricted to
// one day.
func (d *DB) SumPaid(ctx context.Context, matchKey, dayID string) (int64, error) {
	q := d.Bun.NewSelect().
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Model((*models.PaymentTransaction)(nil)).
		Where("match_key = ?", matchKey).
		Where("status = ?", models.StatusPaid)
	if dayID != "" {
		q = q.Where("day_id = ?", dayID)
	}

	var paid int64
	if err := q.Scan(ctx, &paid); err != nil {
		return 0, err
	}
	return paid, nil
}

// CustomerOwedRow is one customer's grouped order totals.
type CustomerOwedRow struct {
	MatchKey string `bun:"match_key"`
	Name     string `bun:"name"`
	Quantity int    `bun:"quantity"`
	Total    int64  `bun:"total"`
}

// likeContains builds a substring LIKE pattern with %, _ and \ escaped so
// search input matches literally.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// GroupOwed groups order totals by customer match key. search narrows the
// result to customers whose match key contains the (already key-normalized)
// substring.
func (d *DB) GroupOwed(ctx context.Context, dayID, search string) ([]CustomerOwedRow, error) {
	q := d.Bun.NewSelect().
		ColumnExpr("o.match_key AS match_key").
		ColumnExpr("MIN(o.customer_name) AS name").
		ColumnExpr("COALESCE(SUM(o.quantity), 0) AS quantity").
		ColumnExpr("COALESCE(SUM(o.quantity * d.price), 0) AS total").
		TableExpr("orders AS o").
		Join("JOIN days AS d ON d.id = o.day_id").
		GroupExpr("o.match_key")
	if dayID != "" {
		q = q.Where("o.day_id = ?", dayID)
	}
	if search != "" {
		q = q.Where(`o.match_key LIKE ? ESCAPE '\'`, likeContains(search))
	}

	var rows []CustomerOwedRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// PaidByCustomerRow is one customer's grouped PAID total.
type PaidByCustomerRow struct {
	MatchKey string `bun:"match_key"`
	Paid     int64  `bun:"paid"`
}

// GroupPaid groups PAID ledger totals by customer match key.
func (d *DB) GroupPaid(ctx context.Context, dayID string) ([]PaidByCustomerRow, error) {
	q := d.Bun.NewSelect().
		ColumnExpr("match_key AS match_key").
		ColumnExpr("COALESCE(SUM(amount), 0) AS paid").
		Model((*models.PaymentTransaction)(nil)).
		Where("status = ?", models.StatusPaid).
		GroupExpr("match_key")
	if dayID != "" {
		q = q.Where("day_id = ?", dayID)
	}

	var rows []PaidByCustomerRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
