package models

// Requests for indicator HTTP endpoints. Defined in domain for consistency and reuse.

type IndicatorRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required,min=5,max=20"`
	Interval string `query:"interval" json:"interval" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 2h 4h 12h 1d 1w"`
	Exchange string `query:"exchange" json:"exchange" default:"binance" validate:"min=2,max=20"`
}

type FlushRequest struct {
	Wait bool `query:"wait" json:"wait" default:"false"`
}
