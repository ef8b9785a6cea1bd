package screener

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/cache"
	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
	"github.com/allaspectsdev/screenman/internal/session"
	"github.com/allaspectsdev/screenman/internal/tracing"
)

const (
	scopeMatches    = "matches"
	matchProviderID = "system"
)

// StartOptions controls a new session's scrape step.
type StartOptions struct {
	MinPercent float64
	UseCache   bool
	CacheToken string
	MaxEntries int
}

// UniverseOptions controls the provider universe step.
type UniverseOptions struct {
	UseCache    bool
	CommonStock bool
}

// MatchOptions controls the match step.
type MatchOptions struct {
	UseCache    bool
	CommonStock bool
}

// ScreenerOptions controls the fundamentals step. Limit truncates the
// distinct symbol list when positive.
type ScreenerOptions struct {
	Limit int
}

// StartSession creates a fresh session and runs the scrape step on it.
func (s *Service) StartSession(ctx context.Context, opts StartOptions) (*session.Session, error) {
	sess := session.New()
	st := sess.EnsureStep(session.StepScrape)
	st.Context = map[string]any{"minPercent": opts.MinPercent}
	if err := s.sessions.Save(sess); err != nil {
		return nil, err
	}

	s.log.Info().Str("session", sess.ID).
		Float64("min_percent", opts.MinPercent).
		Bool("use_cache", opts.UseCache).
		Msg("running scrape step")

	started := time.Now()
	ctx, span := tracing.StartStepSpan(ctx, string(st.Step), sess.ID)
	defer span.End()

	result, err := s.scraper.Scrape(ctx, dataroma.ScrapeOptions{
		UseCache:   opts.UseCache,
		CacheToken: opts.CacheToken,
		MinPercent: opts.MinPercent,
		MaxEntries: opts.MaxEntries,
	})
	s.recordProviderRequest(dataroma.ProviderID, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.blockStep(sess, st, started, err)
	}

	if s.metrics != nil {
		s.metrics.AddHoldingsScraped(len(result.Entries))
	}
	tracing.SetStepResult(ctx, string(session.StatusComplete), len(result.Entries))

	sess.Dataroma = result
	err = s.completeStep(sess, st, started, map[string]any{
		"source":     string(result.Source),
		"entryCount": len(result.Entries),
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// RunUniverseStep fetches the provider's exchange list and every exchange's
// symbol directory, and stores the assembled universe on the session.
func (s *Service) RunUniverseStep(ctx context.Context, sessionID string, opts UniverseOptions) (*session.Session, error) {
	sess, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Dataroma == nil {
		return nil, apperr.New(apperr.KindPrecondition, "Dataroma scrape not completed.")
	}

	st := sess.EnsureStep(session.StepUniverse)
	if err := s.sessions.Save(sess); err != nil {
		return nil, err
	}

	s.log.Info().Str("session", sess.ID).Bool("use_cache", opts.UseCache).
		Msg("running universe step")

	started := time.Now()
	ctx, span := tracing.StartStepSpan(ctx, string(st.Step), sess.ID)
	defer span.End()

	universe, exchangeCount, err := s.buildUniverse(ctx, opts)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.blockStep(sess, st, started, err)
	}
	tracing.SetStepResult(ctx, string(session.StatusComplete), len(universe.Symbols))

	sess.ProviderUniverse = universe
	err = s.completeStep(sess, st, started, map[string]any{
		"exchanges":     exchangeCount,
		"symbolBatches": len(universe.Symbols),
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// buildUniverse fans out one symbol fetch per exchange with bounded
// concurrency. The first failure cancels the remaining fetches.
func (s *Service) buildUniverse(ctx context.Context, opts UniverseOptions) (*eodhd.Universe, int, error) {
	exchangesPayload, err := s.provider.Exchanges(ctx, opts.UseCache)
	s.recordProviderRequest(eodhd.ProviderID, err)
	if err != nil {
		return nil, 0, err
	}

	exchanges := exchangesPayload.Payload
	if s.maxSymbolExchanges > 0 && len(exchanges) > s.maxSymbolExchanges {
		exchanges = exchanges[:s.maxSymbolExchanges]
	}

	payloads := make([]*cache.Payload[[]eodhd.Symbol], len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, ex := range exchanges {
		g.Go(func() error {
			p, err := s.provider.Symbols(gctx, ex.Code, opts.UseCache, opts.CommonStock)
			s.recordProviderRequest(eodhd.ProviderID, err)
			if err != nil {
				return err
			}
			payloads[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	symbols := make(map[string]*cache.Payload[[]eodhd.Symbol], len(exchanges))
	for i, ex := range exchanges {
		symbols[ex.Code] = payloads[i]
		if s.metrics != nil {
			s.metrics.SetUniverseSymbols(ex.Code, len(payloads[i].Payload))
		}
	}

	return &eodhd.Universe{Exchanges: exchangesPayload, Symbols: symbols}, len(exchanges), nil
}

// RunMatchStep pairs the scraped holdings with the provider universe. The
// result is cached keyed by the holdings and universe identity, so re-runs
// with the same inputs are instant.
func (s *Service) RunMatchStep(ctx context.Context, sessionID string, opts MatchOptions) (*session.Session, error) {
	sess, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Dataroma == nil {
		return nil, apperr.New(apperr.KindPrecondition, "Dataroma scrape not completed.")
	}
	if sess.ProviderUniverse == nil {
		return nil, apperr.New(apperr.KindPrecondition, "Provider universe not available.")
	}

	st := sess.EnsureStep(session.StepMatch)
	if err := s.sessions.Save(sess); err != nil {
		return nil, err
	}

	started := time.Now()
	ctx, span := tracing.StartStepSpan(ctx, string(st.Step), sess.ID)
	defer span.End()

	entries := sess.Dataroma.Entries
	universe := sess.ProviderUniverse
	desc := cache.Descriptor{
		Scope:    scopeMatches,
		Provider: matchProviderID,
		Key:      matchCacheKey(entries, len(universe.Symbols), opts.CommonStock),
	}

	if opts.UseCache {
		cached, ok := cache.Read[[]match.Candidate](s.cache, desc)
		tracing.SetCacheAttributes(ctx, ok, desc.Key)
		if ok {
			s.log.Info().Str("session", sess.ID).Int("matches", len(cached.Payload)).
				Msg("match step served from cache")
			sess.Matches = cached.Payload
			if err := s.completeStep(sess, st, started, map[string]any{"matches": len(sess.Matches)}); err != nil {
				return nil, err
			}
			tracing.SetStepResult(ctx, string(session.StatusComplete), len(sess.Matches))
			return sess, nil
		}
	}

	s.log.Info().Str("session", sess.ID).
		Int("entries", len(entries)).
		Int("exchanges", len(universe.Symbols)).
		Bool("common_stock", opts.CommonStock).
		Msg("running match step")

	matches := s.generateMatches(entries, universe, opts.CommonStock)

	if _, err := cache.Write(s.cache, desc, matches); err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.blockStep(sess, st, started, err)
	}
	tracing.SetStepResult(ctx, string(session.StatusComplete), len(matches))

	sess.Matches = matches
	if err := s.completeStep(sess, st, started, map[string]any{"matches": len(matches)}); err != nil {
		return nil, err
	}
	return sess, nil
}

// generateMatches runs the engine once per exchange and flattens the
// results in exchange order. Every worker scans the full holdings list;
// duplicate hits across exchanges are kept so ambiguity stays visible for
// manual review. Holdings no exchange matched get a synthetic unmatched
// candidate at the end, in holdings order.
func (s *Service) generateMatches(entries []dataroma.Entry, universe *eodhd.Universe, commonStock bool) []match.Candidate {
	codes := make([]string, 0, len(universe.Symbols))
	for code := range universe.Symbols {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	perExchange := make([][]match.Candidate, len(codes))
	g := new(errgroup.Group)
	g.SetLimit(s.matchWorkers)
	for i, code := range codes {
		payload := universe.Symbols[code]
		if payload == nil {
			continue
		}
		symbols := payload.Payload
		if commonStock {
			symbols = filterCommonStock(symbols)
		}
		if len(symbols) == 0 {
			continue
		}
		g.Go(func() error {
			perExchange[i] = s.engine.GenerateCandidates(entries, symbols)
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	matches := make([]match.Candidate, 0, len(entries))
	matchedSymbols := make(map[string]bool, len(entries))
	for _, candidates := range perExchange {
		for _, c := range candidates {
			if c.ProviderSymbol == nil {
				continue
			}
			matches = append(matches, c)
			matchedSymbols[c.DataromaSymbol] = true
		}
	}

	for _, entry := range entries {
		if matchedSymbols[entry.Symbol] {
			continue
		}
		matches = append(matches, match.Candidate{
			DataromaSymbol: entry.Symbol,
			DataromaName:   entry.Stock,
			Confidence:     0,
			Reasons:        []string{"No match found across all exchanges"},
			NotAvailable:   true,
		})
	}

	return matches
}

func filterCommonStock(symbols []eodhd.Symbol) []eodhd.Symbol {
	out := make([]eodhd.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if sym.Type == "Common Stock" {
			out = append(out, sym)
		}
	}
	return out
}

// matchCacheKey derives the cache identity for a match run. The digest
// folds in the holdings themselves: two scrapes with equal entry counts
// but different holdings must not share cached matches.
func matchCacheKey(entries []dataroma.Entry, symbolBatches int, commonStock bool) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.Symbol))
		h.Write([]byte{0})
		h.Write([]byte(e.Stock))
		h.Write([]byte{'\n'})
	}
	digest := hex.EncodeToString(h.Sum(nil))[:12]

	mode := "all"
	if commonStock {
		mode = "common"
	}
	return fmt.Sprintf("matches-%d-%d-%s-%s", len(entries), symbolBatches, mode, digest)
}

// RunScreenerStep fetches fundamentals for every distinct matched symbol.
// Individual fetch failures are skipped; the step blocks only when every
// fetch fails.
func (s *Service) RunScreenerStep(ctx context.Context, sessionID string, opts ScreenerOptions) (*session.Session, error) {
	sess, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Matches == nil {
		return nil, apperr.New(apperr.KindPrecondition, "Match results not available.")
	}

	st := sess.EnsureStep(session.StepScreener)
	if err := s.sessions.Save(sess); err != nil {
		return nil, err
	}

	started := time.Now()
	ctx, span := tracing.StartStepSpan(ctx, string(st.Step), sess.ID)
	defer span.End()

	targets := distinctMatchedSymbols(sess.Matches)
	if opts.Limit > 0 && len(targets) > opts.Limit {
		targets = targets[:opts.Limit]
	}

	s.log.Info().Str("session", sess.ID).Int("symbols", len(targets)).
		Msg("running screener step")

	rows := make([]*eodhd.Fundamentals, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(s.fetchConcurrency)
	for i, target := range targets {
		g.Go(func() error {
			f, err := s.provider.Fundamentals(ctx, target.Code, target.Exchange)
			s.recordProviderRequest(eodhd.ProviderID, err)
			if err != nil {
				s.log.Warn().Err(err).
					Str("symbol", target.Code+"."+target.Exchange).
					Msg("fundamentals fetch failed")
				return nil
			}
			rows[i] = f
			return nil
		})
	}
	_ = g.Wait() // fetch failures are skipped, not returned

	collected := make([]eodhd.Fundamentals, 0, len(targets))
	for _, r := range rows {
		if r != nil {
			collected = append(collected, *r)
		}
	}
	failed := len(targets) - len(collected)

	if len(targets) > 0 && len(collected) == 0 {
		err := apperr.New(apperr.KindUpstream, "All fundamentals fetches failed.")
		tracing.RecordError(ctx, err)
		return nil, s.blockStep(sess, st, started, err)
	}

	if s.metrics != nil {
		s.metrics.AddScreenerRows(len(collected))
	}
	tracing.SetStepResult(ctx, string(session.StatusComplete), len(collected))

	sess.ScreenerRows = collected
	s.archiveFundamentals(sess.ID, collected)

	err = s.completeStep(sess, st, started, map[string]any{
		"rows":   len(collected),
		"failed": failed,
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// distinctMatchedSymbols returns the unique provider symbols across all
// candidates, first occurrence first.
func distinctMatchedSymbols(candidates []match.Candidate) []*eodhd.Symbol {
	seen := make(map[string]bool)
	var out []*eodhd.Symbol
	for i := range candidates {
		sym := candidates[i].ProviderSymbol
		if sym == nil {
			continue
		}
		key := sym.Code + "." + sym.Exchange
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sym)
	}
	return out
}

// archiveFundamentals snapshots screener rows into the run history.
func (s *Service) archiveFundamentals(sessionID string, rows []eodhd.Fundamentals) {
	if s.archive == nil || len(rows) == 0 {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	records := make([]*archive.FundamentalsRow, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		records = append(records, &archive.FundamentalsRow{
			SessionID:            sessionID,
			StockCode:            r.StockCode,
			ExchangeCode:         r.ExchangeCode,
			Name:                 r.Name,
			TrailingPE:           r.TrailingPE,
			ForwardPE:            r.ForwardPE,
			ForwardDividendYield: r.ForwardDividendYield,
			FreeCashFlowMargin:   r.FreeCashFlowMargin,
			AsOf:                 r.AsOf.UTC().Format(time.RFC3339),
			CreatedAt:            now,
		})
	}
	if err := s.archive.RecordFundamentals(records); err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to archive screener rows")
	}
}
