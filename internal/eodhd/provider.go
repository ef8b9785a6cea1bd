// Package eodhd talks to the EODHD market-data API. Exchange and symbol
// listings are cached with their own TTLs; fundamentals are always fetched
// live so screener runs see current metrics.
package eodhd

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/cache"
)

// ProviderID namespaces EODHD entries in the cache.
const ProviderID = "eodhd"

const (
	scopeExchangeList    = "exchange-list"
	scopeExchangeSymbols = "exchange-symbols"

	exchangeListTTL = 7 * 24 * time.Hour
	symbolListTTL   = 24 * time.Hour
)

// Provider fetches and caches EODHD reference data.
type Provider struct {
	client *Client
	cache  *cache.Store
	log    zerolog.Logger
}

// ProviderConfig wires a Provider.
type ProviderConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Cache   *cache.Store
	Logger  zerolog.Logger
}

// NewProvider creates a Provider from cfg.
func NewProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		client: NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout),
		cache:  cfg.Cache,
		log:    cfg.Logger.With().Str("component", "eodhd").Logger(),
	}
}

// Exchanges returns the venue list, served from cache when useCache is set
// and an unexpired entry exists. Live results are cached for a week.
func (p *Provider) Exchanges(ctx context.Context, useCache bool) (*cache.Payload[[]Exchange], error) {
	desc := cache.Descriptor{
		Scope:    scopeExchangeList,
		Provider: ProviderID,
		Key:      "all",
	}.WithTTL(exchangeListTTL)

	if useCache {
		if cached, ok := cache.Read[[]Exchange](p.cache, desc); ok {
			return cached, nil
		}
	}

	body, err := p.client.get(ctx, "/exchanges-list", nil)
	if err != nil {
		return nil, err
	}
	var raw []rawExchange
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "decoding exchange list", err)
	}

	exchanges := make([]Exchange, len(raw))
	for i, r := range raw {
		exchanges[i] = r.normalize()
	}

	p.log.Debug().Int("exchanges", len(exchanges)).Msg("exchange list fetched")
	return cache.Write(p.cache, desc, exchanges)
}

// Symbols returns the listings for one exchange, cached for a day. With
// commonStock set only common stock listings are requested, under a separate
// cache key.
func (p *Provider) Symbols(ctx context.Context, exchangeCode string, useCache, commonStock bool) (*cache.Payload[[]Symbol], error) {
	code := strings.ToUpper(strings.TrimSpace(exchangeCode))
	key := code
	if commonStock {
		key += "_common"
	}
	desc := cache.Descriptor{
		Scope:    scopeExchangeSymbols,
		Provider: ProviderID,
		Key:      key,
	}.WithTTL(symbolListTTL)

	if useCache {
		if cached, ok := cache.Read[[]Symbol](p.cache, desc); ok {
			return cached, nil
		}
	}

	var extra url.Values
	if commonStock {
		extra = url.Values{"type": []string{"common_stock"}}
	}
	body, err := p.client.get(ctx, "/exchange-symbol-list/"+url.PathEscape(code), extra)
	if err != nil {
		return nil, err
	}
	var raw []rawSymbol
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "decoding symbol list", err)
	}

	symbols := make([]Symbol, len(raw))
	for i, r := range raw {
		symbols[i] = r.normalize()
	}

	p.log.Debug().Str("exchange", code).Int("symbols", len(symbols)).Msg("symbol list fetched")
	return cache.Write(p.cache, desc, symbols)
}

// Fundamentals fetches a live snapshot for one listing.
func (p *Provider) Fundamentals(ctx context.Context, stockCode, exchangeCode string) (*Fundamentals, error) {
	symbol := strings.ToUpper(strings.TrimSpace(stockCode))
	exchange := strings.ToUpper(strings.TrimSpace(exchangeCode))

	body, err := p.client.get(ctx, "/fundamentals/"+url.PathEscape(symbol+"."+exchange), nil)
	if err != nil {
		return nil, err
	}
	return mapFundamentals(symbol, exchange, body)
}

// fundamentalsDoc picks the slices of the provider document the snapshot
// needs. Metric fields stay raw because the API mixes numbers with numeric
// strings.
type fundamentalsDoc struct {
	General struct {
		Code string `json:"Code"`
		Name string `json:"Name"`
	} `json:"General"`
	Highlights struct {
		PERatioTTM                 json.RawMessage `json:"PERatioTTM"`
		ForwardPE                  json.RawMessage `json:"ForwardPE"`
		ForwardAnnualDividendYield json.RawMessage `json:"ForwardAnnualDividendYield"`
		DividendYield              json.RawMessage `json:"DividendYield"`
	} `json:"Highlights"`
	Financials struct {
		CashFlow struct {
			Yearly map[string]struct {
				FreeCashFlow json.RawMessage `json:"FreeCashFlow"`
			} `json:"yearly"`
		} `json:"Cash_Flow"`
		IncomeStatement struct {
			Yearly map[string]struct {
				TotalRevenue json.RawMessage `json:"totalRevenue"`
				Revenue      json.RawMessage `json:"revenue"`
			} `json:"yearly"`
		} `json:"Income_Statement"`
	} `json:"Financials"`
}

func mapFundamentals(symbol, exchange string, body []byte) (*Fundamentals, error) {
	var doc fundamentalsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "decoding fundamentals", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	name := doc.General.Name
	if name == "" {
		name = doc.General.Code
	}
	if name == "" {
		name = symbol
	}

	var freeCashFlow *float64
	if key, ok := latestYearKey(doc.Financials.CashFlow.Yearly); ok {
		freeCashFlow = toNumber(doc.Financials.CashFlow.Yearly[key].FreeCashFlow)
	}
	var revenue *float64
	if key, ok := latestYearKey(doc.Financials.IncomeStatement.Yearly); ok {
		income := doc.Financials.IncomeStatement.Yearly[key]
		revenue = toNumber(income.TotalRevenue)
		if revenue == nil {
			revenue = toNumber(income.Revenue)
		}
	}
	var fcfMargin *float64
	if freeCashFlow != nil && revenue != nil && *revenue != 0 {
		m := *freeCashFlow / *revenue
		fcfMargin = &m
	}

	divYield := toNumber(doc.Highlights.ForwardAnnualDividendYield)
	if divYield == nil {
		divYield = toNumber(doc.Highlights.DividendYield)
	}

	return &Fundamentals{
		StockCode:            symbol,
		ExchangeCode:         exchange,
		Name:                 name,
		TrailingPE:           toNumber(doc.Highlights.PERatioTTM),
		ForwardPE:            toNumber(doc.Highlights.ForwardPE),
		ForwardDividendYield: divYield,
		FreeCashFlowMargin:   fcfMargin,
		AsOf:                 time.Now(),
		Raw:                  raw,
	}, nil
}

// latestYearKey returns the most recent key of a yearly statement map.
// Numeric keys compare numerically, date keys lexicographically; ISO dates
// sort correctly either way.
func latestYearKey[T any](yearly map[string]T) (string, bool) {
	if len(yearly) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(yearly))
	for k := range yearly {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseFloat(keys[i], 64)
		b, errB := strconv.ParseFloat(keys[j], 64)
		if errA == nil && errB == nil {
			return a > b
		}
		return keys[i] > keys[j]
	})
	return keys[0], true
}

// toNumber accepts JSON numbers or numeric strings and rejects anything that
// does not parse to a finite float.
func toNumber(raw json.RawMessage) *float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
