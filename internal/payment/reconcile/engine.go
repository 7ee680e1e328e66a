// Package reconcile is the payment reconciliation state machine. It
// consumes confirmations from three channels — gateway webhook push,
// client return-URL verification and a periodic sweep — deduplicates them
// on (order_code, status) and commits exactly one PAID transaction per
// order code.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ms-lunch/internal/gateway"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
)

type DBLayer interface {
	RequestByOrderCode(ctx context.Context, orderCode int64) (*models.PaymentRequest, error)
	CommitPaid(ctx context.Context, txn *models.PaymentTransaction) (bool, error)
	ListPending(ctx context.Context, limit int) ([]models.PaymentRequest, error)
	UpdateStatus(ctx context.Context, orderCode int64, status models.RequestStatus) (int64, error)
}

type Gateway interface {
	GetLinkStatus(ctx context.Context, orderCode int64) (*gateway.LinkStatus, error)
	VerifySignature(body []byte) bool
}

type EventPublisher interface {
	PublishPaymentConfirmed(txn models.PaymentTransaction) error
}

type Engine struct {
	DB      DBLayer
	Gateway Gateway
	Events  EventPublisher
	log     *logger.Logger

	batchSize int
	sweeping  atomic.Bool
}

func NewEngine(db DBLayer, gw Gateway, events EventPublisher, batchSize int, log *logger.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{DB: db, Gateway: gw, Events: events, batchSize: batchSize, log: log}
}

// CommitPayment turns a PENDING request into a PAID one by writing a
// deduplicated ledger transaction. A confirmation for an unknown order code
// is dropped with ErrRequestNotFound: without a request row there is no
// customer or day to attribute the payment to. A duplicate confirmation is
// success, not an error.
func (e *Engine) CommitPayment(ctx context.Context, orderCode int64, conf models.Confirmation) error {
	req, err := e.DB.RequestByOrderCode(ctx, orderCode)
	if err != nil {
		return err
	}

	amount := conf.Amount
	if amount <= 0 {
		amount = req.Amount
	}
	txDate := conf.TransactionDate
	if txDate.IsZero() {
		txDate = time.Now()
	}

	txn := &models.PaymentTransaction{
		ID:              uuid.New().String(),
		DayID:           req.DayID,
		CustomerName:    req.CustomerName,
		MatchKey:        req.MatchKey,
		OrderCode:       orderCode,
		Amount:          amount,
		Status:          models.StatusPaid,
		Reference:       conf.Reference,
		TransactionDate: txDate,
		RawPayload:      conf.Raw,
		CreatedAt:       time.Now(),
	}

	inserted, err := e.DB.CommitPaid(ctx, txn)
	if err != nil {
		return err
	}

	if !inserted {
		e.log.LogPayment("DUPLICATE", orderCode, "Confirmation already committed, no-op")
		return nil
	}

	e.log.LogPayment("COMMIT", orderCode, fmt.Sprintf("PAID %d for %s (ref %s)", amount, req.CustomerName, conf.Reference))

	if e.Events != nil {
		if err := e.Events.PublishPaymentConfirmed(*txn); err != nil {
			e.log.Error("KAFKA", fmt.Sprintf("Failed to publish payment confirmed event: %v", err))
		}
	}
	return nil
}

// HandleWebhook processes a pushed confirmation. Bad signatures, malformed
// payloads and internal errors are all swallowed here: the endpoint always
// acknowledges the delivery so the provider does not retry forever, at the
// cost of relying on the return-URL path or the sweep to pick up a dropped
// confirmation.
func (e *Engine) HandleWebhook(ctx context.Context, body []byte) {
	if !e.Gateway.VerifySignature(body) {
		e.log.Warn("WEBHOOK", "Invalid webhook signature, dropping confirmation")
		return
	}

	data, err := gateway.WebhookData(body)
	if err != nil {
		e.log.Warn("WEBHOOK", fmt.Sprintf("Malformed webhook body: %v", err))
		return
	}

	orderCode, conf, err := parseConfirmation(data)
	if err != nil {
		e.log.Warn("WEBHOOK", fmt.Sprintf("Unusable webhook data: %v", err))
		return
	}

	if err := e.CommitPayment(ctx, orderCode, conf); err != nil {
		if errors.Is(err, models.ErrRequestNotFound) {
			e.log.Warn("WEBHOOK", fmt.Sprintf("No payment request for order code %d, dropping", orderCode))
		} else {
			e.log.Error("WEBHOOK", fmt.Sprintf("Commit failed for order code %d: %v", orderCode, err))
		}
	}
}

// VerifyReturn is the return-URL channel: the customer's browser came back
// with an order code, so ask the gateway for that code's current state and
// commit or expire accordingly. Returns the request's resulting status.
func (e *Engine) VerifyReturn(ctx context.Context, orderCode int64) (models.RequestStatus, error) {
	req, err := e.DB.RequestByOrderCode(ctx, orderCode)
	if err != nil {
		return "", err
	}
	if req.Status.Terminal() {
		return req.Status, nil
	}

	return e.reconcileAgainstGateway(ctx, orderCode)
}

func (e *Engine) reconcileAgainstGateway(ctx context.Context, orderCode int64) (models.RequestStatus, error) {
	status, err := e.Gateway.GetLinkStatus(ctx, orderCode)
	if err != nil {
		// A failed status query leaves the request PENDING for the next
		// sweep cycle.
		return models.StatusPending, err
	}

	if paidEquivalent(status.Status, status.AmountPaid) {
		conf := models.Confirmation{
			Amount:          status.AmountPaid,
			Reference:       status.Reference,
			TransactionDate: status.TransactionDateTime,
			Raw:             rawStatusPayload(status),
		}
		if err := e.CommitPayment(ctx, orderCode, conf); err != nil {
			return models.StatusPending, err
		}
		return models.StatusPaid, nil
	}

	switch strings.ToUpper(status.Status) {
	case string(models.StatusCancelled):
		_, err := e.DB.UpdateStatus(ctx, orderCode, models.StatusCancelled)
		return models.StatusCancelled, err
	case string(models.StatusExpired):
		_, err := e.DB.UpdateStatus(ctx, orderCode, models.StatusExpired)
		return models.StatusExpired, err
	}

	return models.StatusPending, nil
}

// Sweep is the periodic reconciliation pass: pull the oldest PENDING
// requests and run the same commit-or-expire logic as the return-URL path
// for each one independently. A per-request gateway failure is logged and
// does not abort the batch. Sweeps never overlap; a call while one is in
// flight returns immediately.
func (e *Engine) Sweep(ctx context.Context) {
	if !e.sweeping.CompareAndSwap(false, true) {
		e.log.LogSweep("Previous sweep still running, skipping")
		return
	}
	defer e.sweeping.Store(false)

	pending, err := e.DB.ListPending(ctx, e.batchSize)
	if err != nil {
		e.log.Error("SWEEP", fmt.Sprintf("Failed to list pending requests: %v", err))
		return
	}
	if len(pending) == 0 {
		return
	}

	e.log.LogSweep(fmt.Sprintf("Reconciling %d pending request(s)", len(pending)))

	for _, req := range pending {
		if ctx.Err() != nil {
			e.log.LogSweep("Sweep cancelled")
			return
		}
		result, err := e.reconcileAgainstGateway(ctx, req.OrderCode)
		if err != nil {
			e.log.Warn("SWEEP", fmt.Sprintf("Order code %d left pending: %v", req.OrderCode, err))
			continue
		}
		if result != models.StatusPending {
			e.log.LogSweep(fmt.Sprintf("Order code %d -> %s", req.OrderCode, result))
		}
	}
}

// paidEquivalent treats a gateway report as paid when its status is in the
// acceptance set OR it reports a positive paid amount. The amount fallback
// covers providers that confirm partial or full payments under a status
// string outside the known set.
func paidEquivalent(status string, amountPaid int64) bool {
	switch strings.ToUpper(status) {
	case "PAID", "SUCCESS", "SUCCEEDED":
		return true
	}
	return amountPaid > 0
}

func rawStatusPayload(status *gateway.LinkStatus) string {
	raw, err := json.Marshal(status)
	if err != nil {
		return ""
	}
	return string(raw)
}

// parseConfirmation extracts order code, amount, reference and transaction
// date from a webhook data object, tolerating the alternate field names the
// provider uses across channels.
func parseConfirmation(data json.RawMessage) (int64, models.Confirmation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return 0, models.Confirmation{}, err
	}

	orderCode, ok := numberField(fields, "orderCode", "order_code")
	if !ok || orderCode == 0 {
		return 0, models.Confirmation{}, errors.New("confirmation has no order code")
	}

	amount, _ := numberField(fields, "amount", "amountPaid", "amount_paid")
	reference, _ := stringField(fields, "reference", "paymentReference", "transactionId")

	conf := models.Confirmation{
		Amount:    amount,
		Reference: reference,
		Raw:       string(data),
	}
	if raw, ok := stringField(fields, "transactionDateTime", "transactionDatetime", "transactionDate"); ok {
		conf.TransactionDate = gateway.ParseTransactionTime(raw)
	}
	return orderCode, conf, nil
}

func numberField(fields map[string]interface{}, names ...string) (int64, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			if num, ok := v.(json.Number); ok {
				if n, err := num.Int64(); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func stringField(fields map[string]interface{}, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
