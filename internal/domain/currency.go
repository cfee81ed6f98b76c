package domain

import "time"

// CurrencyRate registers a currency accepted for voting and its exchange rate
// against the base settlement currency.
type CurrencyRate struct {
	ID string `json:"id"`
	// PriceInBase is how many whole base-currency units equal one whole unit
	// of this currency.
	PriceInBase  uint64    `json:"price_in_base"`
	Decimals     uint8     `json:"decimals"`
	Enabled      bool      `json:"enabled"`
	Withdrawable bool      `json:"withdrawable"`
	CreatedAt    time.Time `json:"created_at"`
}
