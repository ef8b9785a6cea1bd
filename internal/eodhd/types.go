package eodhd

import (
	"time"

	"github.com/allaspectsdev/screenman/internal/cache"
)

// Exchange is one venue from the provider exchange list.
type Exchange struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	OperatingMic string `json:"operatingMic"`
	Country      string `json:"country"`
	Currency     string `json:"currency"`
}

// Symbol is one listing on an exchange.
type Symbol struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Exchange string  `json:"exchange"`
	Country  string  `json:"country"`
	Currency string  `json:"currency"`
	Isin     *string `json:"isin,omitempty"`
	Type     string  `json:"type"`
}

// Fundamentals is a point-in-time snapshot of headline metrics for one
// listing. Metric pointers are nil when the upstream document lacks a usable
// value; Raw carries the full provider document for downstream inspection.
type Fundamentals struct {
	StockCode            string         `json:"stockCode"`
	ExchangeCode         string         `json:"exchangeCode"`
	Name                 string         `json:"name"`
	TrailingPE           *float64       `json:"trailingPE,omitempty"`
	ForwardPE            *float64       `json:"forwardPE,omitempty"`
	ForwardDividendYield *float64       `json:"forwardDividendYield,omitempty"`
	FreeCashFlowMargin   *float64       `json:"freeCashFlowMargin,omitempty"`
	AsOf                 time.Time      `json:"asOf"`
	Raw                  map[string]any `json:"raw,omitempty"`
}

// Universe is the per-exchange listing map the universe step assembles. The
// cache envelopes are kept so sessions record where each slice came from and
// when it expires.
type Universe struct {
	Exchanges *cache.Payload[[]Exchange]          `json:"exchanges"`
	Symbols   map[string]*cache.Payload[[]Symbol] `json:"symbols"`
}

// rawExchange and rawSymbol mirror the provider's PascalCase wire format.

type rawExchange struct {
	Code         string `json:"Code"`
	Name         string `json:"Name"`
	OperatingMIC string `json:"OperatingMIC"`
	Country      string `json:"Country"`
	Currency     string `json:"Currency"`
}

func (r rawExchange) normalize() Exchange {
	return Exchange{
		Code:         r.Code,
		Name:         r.Name,
		OperatingMic: r.OperatingMIC,
		Country:      r.Country,
		Currency:     r.Currency,
	}
}

type rawSymbol struct {
	Code     string  `json:"Code"`
	Name     string  `json:"Name"`
	Exchange string  `json:"Exchange"`
	Country  string  `json:"Country"`
	Currency string  `json:"Currency"`
	Isin     *string `json:"Isin"`
	Type     string  `json:"Type"`
}

func (r rawSymbol) normalize() Symbol {
	s := Symbol{
		Code:     r.Code,
		Name:     r.Name,
		Exchange: r.Exchange,
		Country:  r.Country,
		Currency: r.Currency,
		Type:     r.Type,
	}
	if r.Isin != nil && *r.Isin != "" {
		s.Isin = r.Isin
	}
	return s
}
