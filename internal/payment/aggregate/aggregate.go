// Package aggregate joins orders against paid transactions to derive each
// customer's owed, paid and remaining balance.
package aggregate

import (
	"context"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"ms-lunch/internal/identity"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
	paymentdb "ms-lunch/internal/payment/db"
)

// Scope selects which orders and transactions participate in a summary.
// Payments default to ScopeAllTime so balances carry across days; ordering
// capacity is always per-day.
type Scope int

const (
	ScopeAllTime Scope = iota
	ScopeCurrentDay
)

type DBLayer interface {
	SumOwed(ctx context.Context, matchKey, dayID string) (*paymentdb.OwedTotals, error)
	SumPaid(ctx context.Context, matchKey, dayID string) (int64, error)
	GroupOwed(ctx context.Context, dayID, search string) ([]paymentdb.CustomerOwedRow, error)
	GroupPaid(ctx context.Context, dayID string) ([]paymentdb.PaidByCustomerRow, error)
}

type DayResolver interface {
	EnsureToday(ctx context.Context) (*models.Day, error)
}

type Aggregator struct {
	DB       DBLayer
	Days     DayResolver
	log      *logger.Logger
	collator *collate.Collator
}

func New(db DBLayer, days DayResolver, log *logger.Logger) *Aggregator {
	return &Aggregator{
		DB:       db,
		Days:     days,
		log:      log,
		collator: collate.New(language.Vietnamese),
	}
}

func (a *Aggregator) scopeDayID(ctx context.Context, scope Scope) (string, error) {
	if scope != ScopeCurrentDay {
		return "", nil
	}
	day, err := a.Days.EnsureToday(ctx)
	if err != nil {
		return "", err
	}
	return day.ID, nil
}

// SummarizeCustomer computes one customer's owed/paid/remaining balance.
// Fails with ErrCustomerNotFound when no orders match in scope.
func (a *Aggregator) SummarizeCustomer(ctx context.Context, name string, scope Scope) (*models.CustomerSummary, error) {
	key := identity.MatchKey(name)
	if key == "" {
		return nil, models.ErrInvalidInput
	}

	dayID, err := a.scopeDayID(ctx, scope)
	if err != nil {
		return nil, err
	}

	owed, err := a.DB.SumOwed(ctx, key, dayID)
	if err != nil {
		return nil, err
	}
	if owed.Quantity == 0 {
		return nil, models.ErrCustomerNotFound
	}

	paid, err := a.DB.SumPaid(ctx, key, dayID)
	if err != nil {
		return nil, err
	}

	summary := buildSummary(identity.Normalize(name), owed.Quantity, owed.Total, paid)
	return &summary, nil
}

// SummarizeAll computes summaries for every customer in scope, grouped by
// match key and sorted by display name with Vietnamese collation. search is
// a case/space/apostrophe-insensitive substring filter; unpaidOnly keeps
// only customers with a positive remaining balance (the cross-day debt
// view), while the daily roster wants everyone who ordered.
func (a *Aggregator) SummarizeAll(ctx context.Context, scope Scope, search string, unpaidOnly bool) ([]models.CustomerSummary, error) {
	dayID, err := a.scopeDayID(ctx, scope)
	if err != nil {
		return nil, err
	}

	owedRows, err := a.DB.GroupOwed(ctx, dayID, identity.MatchKey(search))
	if err != nil {
		return nil, err
	}

	paidRows, err := a.DB.GroupPaid(ctx, dayID)
	if err != nil {
		return nil, err
	}
	paidByKey := make(map[string]int64, len(paidRows))
	for _, row := range paidRows {
		paidByKey[row.MatchKey] = row.Paid
	}

	summaries := make([]models.CustomerSummary, 0, len(owedRows))
	for _, row := range owedRows {
		summary := buildSummary(row.Name, row.Quantity, row.Total, paidByKey[row.MatchKey])
		if unpaidOnly && summary.RemainingAmount <= 0 {
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return a.collator.CompareString(summaries[i].Name, summaries[j].Name) < 0
	})
	return summaries, nil
}

func buildSummary(name string, quantity int, total, paid int64) models.CustomerSummary {
	var unitPrice int64
	if quantity > 0 {
		// Round half up.
		unitPrice = (total + int64(quantity)/2) / int64(quantity)
	}

	remaining := total - paid
	if remaining < 0 {
		remaining = 0
	}

	var status models.PaymentState
	switch {
	case paid >= total:
		status = models.PaymentPaid
	case paid > 0:
		status = models.PaymentPartial
	default:
		status = models.PaymentUnpaid
	}

	return models.CustomerSummary{
		Name:            name,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		TotalAmount:     total,
		PaidAmount:      paid,
		RemainingAmount: remaining,
		Status:          status,
	}
}
