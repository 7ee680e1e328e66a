package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Defaults applied when a day record is created lazily.
const (
	DefaultMenu     = "Cơm chiên tôm"
	DefaultQuantity = 10
	DefaultPrice    = 40000
)

type Day struct {
	bun.BaseModel `bun:"table:days"`

	ID        string    `bun:"id,pk" json:"id"`
	Date      string    `bun:"date,notnull,unique" json:"date"`
	Menu      string    `bun:"menu,notnull" json:"-"`
	Quantity  int       `bun:"quantity,notnull" json:"quantity"`
	Price     int64     `bun:"price,notnull" json:"price"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// MenuPayload returns the stored menu as structured JSON when it parses,
// otherwise as the raw string.
func (d *Day) MenuPayload() interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(d.Menu), &parsed); err == nil {
		return parsed
	}
	return d.Menu
}

// DayInfo is the public shape of a day plus its order totals.
type DayInfo struct {
	ID        string      `json:"id"`
	Date      string      `json:"date"`
	Menu      interface{} `json:"menu"`
	Quantity  int         `json:"quantity"`
	Ordered   int         `json:"ordered"`
	Remaining int         `json:"remaining"`
	Price     int64       `json:"price"`
}

// DayDetails bundles a day's info with its order list for the admin view.
type DayDetails struct {
	Day    DayInfo `json:"day"`
	Orders []Order `json:"orders"`
}
