package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID           string    `bun:"id,pk" json:"id"`
	DayID        string    `bun:"day_id,notnull" json:"day_id"`
	CustomerName string    `bun:"customer_name,notnull" json:"name"`
	MatchKey     string    `bun:"match_key,notnull" json:"-"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	Description  string    `bun:"description" json:"description"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

type OrderRequest struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

// OrderUpdate carries an admin correction for an existing order. Nil fields
// are left unchanged.
type OrderUpdate struct {
	Name        *string `json:"name"`
	Quantity    *int    `json:"quantity"`
	Description *string `json:"description"`
}
