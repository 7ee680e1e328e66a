// Package request owns the PaymentRequest lifecycle:
// PENDING -> PAID | CANCELLED | EXPIRED, one order code per request.
package request

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-lunch/internal/gateway"
	"ms-lunch/internal/identity"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
	"ms-lunch/internal/payment/aggregate"
	"ms-lunch/internal/utils"
)

const (
	// Limit bounds for ListPending.
	defaultListLimit = 50
	maxListLimit     = 200

	manualReference = "MANUAL"
	linkDescription = "Thanh toan com trua"
)

type DBLayer interface {
	InsertRequest(ctx context.Context, req *models.PaymentRequest) error
	RequestByOrderCode(ctx context.Context, orderCode int64) (*models.PaymentRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.PaymentRequest, error)
	UpdateStatus(ctx context.Context, orderCode int64, status models.RequestStatus) (int64, error)
}

type Gateway interface {
	CreateLink(ctx context.Context, orderCode int64, amount int64, description, buyerName string) (*gateway.LinkArtifacts, error)
}

type Balances interface {
	SummarizeCustomer(ctx context.Context, name string, scope aggregate.Scope) (*models.CustomerSummary, error)
}

type Committer interface {
	CommitPayment(ctx context.Context, orderCode int64, conf models.Confirmation) error
}

type DayResolver interface {
	EnsureToday(ctx context.Context) (*models.Day, error)
}

type Service struct {
	DB       DBLayer
	Gateway  Gateway
	Balances Balances
	Days     DayResolver
	Engine   Committer
	Scope    aggregate.Scope
	log      *logger.Logger
}

func NewService(db DBLayer, gw Gateway, balances Balances, days DayResolver, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Gateway:  gw,
		Balances: balances,
		Days:     days,
		Scope:    aggregate.ScopeAllTime,
		log:      log,
	}
}

// CreateRequest opens a gateway payment link for a customer's outstanding
// balance and persists the PENDING request. The balance check runs before
// any gateway call so no needless link is issued.
func (s *Service) CreateRequest(ctx context.Context, name string) (*models.PaymentRequest, error) {
	canonical := identity.Normalize(name)
	if canonical == "" {
		return nil, fmt.Errorf("%w: customer name is required", models.ErrInvalidInput)
	}

	summary, err := s.Balances.SummarizeCustomer(ctx, canonical, s.Scope)
	if err != nil {
		return nil, err
	}
	if summary.RemainingAmount <= 0 {
		return nil, models.ErrNothingOwed
	}

	day, err := s.Days.EnsureToday(ctx)
	if err != nil {
		return nil, err
	}

	orderCode := utils.GenerateOrderCode()
	artifacts, err := s.Gateway.CreateLink(ctx, orderCode, summary.RemainingAmount, linkDescription, canonical)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &models.PaymentRequest{
		ID:            uuid.New().String(),
		DayID:         day.ID,
		CustomerName:  canonical,
		MatchKey:      identity.MatchKey(canonical),
		OrderCode:     orderCode,
		Amount:        summary.RemainingAmount,
		PaymentLinkID: artifacts.PaymentLinkID,
		CheckoutURL:   artifacts.CheckoutURL,
		QRCode:        artifacts.QRCode,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.DB.InsertRequest(ctx, req); err != nil {
		return nil, err
	}

	s.log.LogPayment("CREATE", orderCode, fmt.Sprintf("Payment link for %s, amount %d", canonical, req.Amount))
	return req, nil
}

// GetRequest looks a request up by its order code.
func (s *Service) GetRequest(ctx context.Context, orderCode int64) (*models.PaymentRequest, error) {
	return s.DB.RequestByOrderCode(ctx, orderCode)
}

// ListPending returns up to limit PENDING requests, oldest first. The limit
// is clamped to [1, 200] with a default of 50.
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.PaymentRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.DB.ListPending(ctx, limit)
}

// SetStatus transitions a request directly, used for CANCELLED/EXPIRED.
// An unknown order code or a request already in a terminal state affects
// zero rows; that is non-fatal and only logged.
func (s *Service) SetStatus(ctx context.Context, orderCode int64, status models.RequestStatus) error {
	rows, err := s.DB.UpdateStatus(ctx, orderCode, status)
	if err != nil {
		return err
	}
	if rows == 0 {
		s.log.Warn("PAYMENT", fmt.Sprintf("SetStatus %s for order code %d affected no rows", status, orderCode))
		return nil
	}
	s.log.LogPayment("STATUS", orderCode, string(status))
	return nil
}

// ManualMarkPaid is the admin override: it synthesizes a confirmation and
// feeds it through the reconciliation engine's commit path, so the same
// dedup and ledger rules apply as for gateway confirmations.
func (s *Service) ManualMarkPaid(ctx context.Context, orderCode int64) error {
	req, err := s.DB.RequestByOrderCode(ctx, orderCode)
	if err != nil {
		return err
	}

	conf := models.Confirmation{
		Amount:          req.Amount,
		Reference:       manualReference,
		TransactionDate: time.Now(),
		Raw:             fmt.Sprintf(`{"source":"manual","orderCode":%d}`, orderCode),
	}

	s.log.LogPayment("MANUAL", orderCode, "Admin marked request paid")
	return s.Engine.CommitPayment(ctx, orderCode, conf)
}
