package holding

import "strings"

// Class is the asset class of a tracked holding.
type Class string

const (
	ClassEquity Class = "equity"
	ClassFund   Class = "fund"
	ClassCrypto Class = "crypto"
)

// Market hints where an instrument is listed, which drives symbol variants
// and unit conventions downstream.
type Market string

const (
	MarketUK Market = "UK"
	MarketUS Market = "US"
)

// Holding is one trackable asset position. The investment-management UI owns
// these; the price pipeline only reads them.
type Holding struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Class    Class  `json:"class"`
	Platform string `json:"platform,omitempty"`
	Market   Market `json:"market,omitempty"`
}

// Key identifies the holding in the price store.
func (h Holding) Key() string {
	return strings.ToUpper(strings.TrimSpace(h.Symbol))
}
