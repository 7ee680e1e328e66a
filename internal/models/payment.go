package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusPaid      RequestStatus = "PAID"
	StatusCancelled RequestStatus = "CANCELLED"
	StatusExpired   RequestStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RequestStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusExpired
}

// PaymentRequest is a gateway-side payment intent for a customer's
// outstanding balance. OrderCode is the join key the gateway reports back.
type PaymentRequest struct {
	bun.BaseModel `bun:"table:payment_requests"`

	ID            string        `bun:"id,pk" json:"id"`
	DayID         string        `bun:"day_id,notnull" json:"day_id"`
	CustomerName  string        `bun:"customer_name,notnull" json:"name"`
	MatchKey      string        `bun:"match_key,notnull" json:"-"`
	OrderCode     int64         `bun:"order_code,notnull,unique" json:"order_code"`
	Amount        int64         `bun:"amount,notnull" json:"amount"`
	PaymentLinkID string        `bun:"payment_link_id" json:"payment_link_id"`
	CheckoutURL   string        `bun:"checkout_url" json:"checkout_url"`
	QRCode        string        `bun:"qr_code" json:"qr_code"`
	Status        RequestStatus `bun:"status,notnull" json:"status"`
	CreatedAt     time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// PaymentTransaction is an append-only ledger entry for a confirmed payment.
// The (order_code, status) pair carries a unique index; inserting a duplicate
// confirmation is a no-op, which is what makes the webhook, return-URL and
// sweep channels safe to race against each other.
type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions"`

	ID              string        `bun:"id,pk" json:"id"`
	DayID           string        `bun:"day_id,notnull" json:"day_id"`
	CustomerName    string        `bun:"customer_name,notnull" json:"name"`
	MatchKey        string        `bun:"match_key,notnull" json:"-"`
	OrderCode       int64         `bun:"order_code,notnull" json:"order_code"`
	Amount          int64         `bun:"amount,notnull" json:"amount"`
	Status          RequestStatus `bun:"status,notnull" json:"status"`
	Reference       string        `bun:"reference" json:"reference"`
	TransactionDate time.Time     `bun:"transaction_date,notnull" json:"transaction_date"`
	RawPayload      string        `bun:"raw_payload" json:"-"`
	CreatedAt       time.Time     `bun:"created_at,notnull" json:"created_at"`
}

// Confirmation is the channel-independent shape of a payment confirmation
// after field extraction.
type Confirmation struct {
	Amount          int64     `json:"amount"`
	Reference       string    `json:"reference"`
	TransactionDate time.Time `json:"transaction_date"`
	Raw             string    `json:"-"`
}

type PaymentState string

const (
	PaymentPaid    PaymentState = "PAID"
	PaymentPartial PaymentState = "PARTIAL"
	PaymentUnpaid  PaymentState = "UNPAID"
)

// CustomerSummary is the aggregator's per-customer view of owed vs paid.
type CustomerSummary struct {
	Name            string       `json:"name"`
	Quantity        int          `json:"quantity"`
	UnitPrice       int64        `json:"unit_price"`
	TotalAmount     int64        `json:"total_amount"`
	PaidAmount      int64        `json:"paid_amount"`
	RemainingAmount int64        `json:"remaining_amount"`
	Status          PaymentState `json:"status"`
}
