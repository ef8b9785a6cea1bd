// Package screener orchestrates the Dataroma screening pipeline: scrape the
// aggregated portfolio, build the provider symbol universe, match holdings
// to provider listings, and pull fundamentals for the matched symbols. Each
// step runs against a persisted session document, so an interrupted pipeline
// resumes from whatever the last completed step left behind.
package screener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/cache"
	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
	"github.com/allaspectsdev/screenman/internal/metrics"
	"github.com/allaspectsdev/screenman/internal/session"
)

// Scraper fetches the aggregated holdings list.
type Scraper interface {
	Scrape(ctx context.Context, opts dataroma.ScrapeOptions) (*dataroma.ScrapeResult, error)
}

// Provider serves exchange metadata, per-exchange symbol directories, and
// fundamentals snapshots.
type Provider interface {
	Exchanges(ctx context.Context, useCache bool) (*cache.Payload[[]eodhd.Exchange], error)
	Symbols(ctx context.Context, exchangeCode string, useCache, commonStock bool) (*cache.Payload[[]eodhd.Symbol], error)
	Fundamentals(ctx context.Context, stockCode, exchangeCode string) (*eodhd.Fundamentals, error)
}

const (
	defaultFetchConcurrency = 12
	defaultMatchWorkers     = 8
)

// Service drives the screening pipeline. One Service instance serves all
// sessions; per-session state lives in the session store.
type Service struct {
	scraper  Scraper
	provider Provider
	engine   *match.Engine
	sessions *session.Store
	cache    *cache.Store
	archive  *archive.Archive
	metrics  *metrics.Collector
	log      zerolog.Logger

	fetchConcurrency   int
	maxSymbolExchanges int
	matchWorkers       int
}

// Config assembles a Service. Archive and Metrics may be nil to disable run
// history and instrumentation.
type Config struct {
	Scraper            Scraper
	Provider           Provider
	Engine             *match.Engine
	Sessions           *session.Store
	Cache              *cache.Store
	Archive            *archive.Archive
	Metrics            *metrics.Collector
	Logger             zerolog.Logger
	FetchConcurrency   int
	MaxSymbolExchanges int
	MatchWorkers       int
}

// NewService wires the pipeline dependencies together.
func NewService(cfg Config) *Service {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	if cfg.MatchWorkers <= 0 {
		cfg.MatchWorkers = defaultMatchWorkers
	}
	if cfg.Engine == nil {
		cfg.Engine = match.NewEngine(0)
	}
	return &Service{
		scraper:            cfg.Scraper,
		provider:           cfg.Provider,
		engine:             cfg.Engine,
		sessions:           cfg.Sessions,
		cache:              cfg.Cache,
		archive:            cfg.Archive,
		metrics:            cfg.Metrics,
		log:                cfg.Logger.With().Str("component", "screener").Logger(),
		fetchConcurrency:   cfg.FetchConcurrency,
		maxSymbolExchanges: cfg.MaxSymbolExchanges,
		matchWorkers:       cfg.MatchWorkers,
	}
}

// GetSession returns a persisted session by id.
func (s *Service) GetSession(id string) (*session.Session, error) {
	return s.loadSession(id)
}

func (s *Service) loadSession(id string) (*session.Session, error) {
	sess, ok, err := s.sessions.Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "Session not found")
	}
	return sess, nil
}

// completeStep marks the step complete with its summary context and
// persists the session.
func (s *Service) completeStep(sess *session.Session, st *session.StepState, started time.Time, context map[string]any) error {
	st.Status = session.StatusComplete
	st.Context = context
	s.archiveStepRun(sess.ID, st, started)
	s.recordStepMetrics(st, started)
	return s.sessions.Save(sess)
}

// blockStep marks the step blocked, persists the session best-effort, and
// returns the causing error with an upstream kind attached when it has none.
func (s *Service) blockStep(sess *session.Session, st *session.StepState, started time.Time, cause error) error {
	st.Status = session.StatusBlocked
	st.Context = map[string]any{"error": cause.Error()}
	s.archiveStepRun(sess.ID, st, started)
	s.recordStepMetrics(st, started)
	if err := s.sessions.Save(sess); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Str("step", string(st.Step)).
			Msg("failed to persist blocked step")
	}
	var ae *apperr.Error
	if errors.As(cause, &ae) {
		return cause
	}
	return apperr.Wrap(apperr.KindUpstream, string(st.Step)+" step failed", cause)
}

// recordStepMetrics feeds the finished step into the collector.
func (s *Service) recordStepMetrics(st *session.StepState, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStepRun(string(st.Step), string(st.Status))
	s.metrics.ObserveStepDuration(string(st.Step), time.Since(started).Seconds())
}

// recordProviderRequest counts one upstream call by provider and outcome.
func (s *Service) recordProviderRequest(provider string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(provider, status)
}

// archiveStepRun records a finished step in the run history. Failures are
// logged and swallowed: history must never fail the pipeline.
func (s *Service) archiveStepRun(sessionID string, st *session.StepState, started time.Time) {
	if s.archive == nil {
		return
	}

	detail := ""
	if len(st.Context) > 0 {
		if data, err := json.Marshal(st.Context); err == nil {
			detail = string(data)
		}
	}

	run := &archive.StepRun{
		SessionID:  sessionID,
		Step:       string(st.Step),
		Status:     string(st.Status),
		Detail:     detail,
		DurationMs: time.Since(started).Milliseconds(),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.archive.RecordStepRun(run); err != nil {
		s.log.Warn().Err(err).Str("step", string(st.Step)).Msg("failed to archive step run")
	}
}
