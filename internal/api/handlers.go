// Package api exposes the screening pipeline over HTTP: session lifecycle,
// step execution, universe search, manual match corrections, run history,
// and runtime settings. All responses are JSON; errors use a single
// envelope with the status derived from the error kind.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/screener"
	"github.com/allaspectsdev/screenman/internal/session"
	"github.com/allaspectsdev/screenman/internal/settings"
)

// defaultHistoryLimit caps GET /history when no limit is given.
const defaultHistoryLimit = 50

// Handler serves the screening API on top of the service handle.
type Handler struct {
	handle *ServiceHandle
	log    zerolog.Logger
}

// NewHandler creates a Handler over handle.
func NewHandler(handle *ServiceHandle, logger zerolog.Logger) *Handler {
	return &Handler{
		handle: handle,
		log:    logger.With().Str("component", "api").Logger(),
	}
}

// decodeBody parses the request body into v. An empty body is accepted so
// callers can omit optional parameter documents entirely.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindInput, "failed to read request body", err)
	}
	defer r.Body.Close()

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindInput, "invalid request body", err)
	}
	return nil
}

// effectiveCache resolves a step's cache flag: an explicit useCache wins,
// then the legacy cache field, then the settings default.
func effectiveCache(useCache, cache *bool, fallback bool) bool {
	if useCache != nil {
		return *useCache
	}
	if cache != nil {
		return *cache
	}
	return fallback
}

// boolOr returns *v when set, otherwise fallback.
func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}

// HandleHealth returns a simple JSON health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startSessionRequest is the body of POST /dataroma-screener/session. Cache
// is the legacy spelling of UseCache; both are optional.
type startSessionRequest struct {
	Cache      *bool    `json:"cache"`
	UseCache   *bool    `json:"useCache"`
	MinPercent *float64 `json:"minPercent"`
	CacheToken *string  `json:"cacheToken"`
	MaxEntries *int     `json:"maxEntries"`
}

// HandleStartSession creates a session, runs the scrape step, and records
// the session as the latest one.
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	prefs := h.handle.SettingsStore().Load().Preferences.Cache
	opts := screener.StartOptions{
		UseCache: effectiveCache(req.UseCache, req.Cache, prefs.DataromaScrape),
	}
	if req.MinPercent != nil {
		opts.MinPercent = *req.MinPercent
	}
	if req.CacheToken != nil {
		opts.CacheToken = *req.CacheToken
	}
	if req.MaxEntries != nil {
		opts.MaxEntries = *req.MaxEntries
	}

	sess, err := svc.StartSession(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	h.handle.SetLatest(sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

// HandleLatestSession returns the most recently started session.
func (h *Handler) HandleLatestSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.handle.Latest()
	if !ok {
		writeError(w, apperr.New(apperr.KindNotFound, "No Dataroma screener session found. Start a new session."))
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := svc.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleGetSession returns one session by id.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := svc.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// universeStepRequest is the body of POST .../universe.
type universeStepRequest struct {
	Cache       *bool `json:"cache"`
	UseCache    *bool `json:"useCache"`
	CommonStock *bool `json:"commonStock"`
}

// HandleUniverseStep runs the stock-universe step on a session.
func (h *Handler) HandleUniverseStep(w http.ResponseWriter, r *http.Request) {
	var req universeStepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	prefs := h.handle.SettingsStore().Load().Preferences.Cache
	opts := screener.UniverseOptions{
		UseCache:    effectiveCache(req.UseCache, req.Cache, prefs.StockUniverse),
		CommonStock: boolOr(req.CommonStock, true),
	}

	sess, err := svc.RunUniverseStep(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// matchStepRequest is the body of POST .../matches.
type matchStepRequest struct {
	UseCache    *bool `json:"useCache"`
	CommonStock *bool `json:"commonStock"`
}

// HandleMatchStep runs the match step on a session.
func (h *Handler) HandleMatchStep(w http.ResponseWriter, r *http.Request) {
	var req matchStepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	opts := screener.MatchOptions{
		UseCache:    boolOr(req.UseCache, true),
		CommonStock: boolOr(req.CommonStock, true),
	}

	sess, err := svc.RunMatchStep(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// screenerStepRequest is the body of POST .../screener.
type screenerStepRequest struct {
	Limit *int `json:"limit"`
}

// HandleScreenerStep runs the fundamentals step on a session.
func (h *Handler) HandleScreenerStep(w http.ResponseWriter, r *http.Request) {
	var req screenerStepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	var opts screener.ScreenerOptions
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}

	sess, err := svc.RunScreenerStep(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleSearchUniverse searches the latest session's stock universe by name.
func (h *Handler) HandleSearchUniverse(w http.ResponseWriter, r *http.Request) {
	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	sess := h.loadLatest(svc)
	results, err := svc.SearchUniverse(sess, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// symbolRef identifies one listing in the universe.
type symbolRef struct {
	Code     string `json:"code"`
	Exchange string `json:"exchange"`
}

// updateMatchRequest is the body of PUT /dataroma-screener/matches.
type updateMatchRequest struct {
	DataromaSymbol string     `json:"dataromaSymbol"`
	ProviderSymbol *symbolRef `json:"providerSymbol"`
	NotAvailable   *bool      `json:"notAvailable"`
}

// HandleUpdateMatch applies a manual correction to one candidate on the
// latest session.
func (h *Handler) HandleUpdateMatch(w http.ResponseWriter, r *http.Request) {
	var req updateMatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.handle.Service()
	if err != nil {
		writeError(w, err)
		return
	}

	update := screener.UpdateMatchRequest{
		DataromaSymbol: req.DataromaSymbol,
		NotAvailable:   boolOr(req.NotAvailable, false),
	}
	if req.ProviderSymbol != nil {
		update.ProviderSymbol = &screener.SymbolRef{
			Code:     req.ProviderSymbol.Code,
			Exchange: req.ProviderSymbol.Exchange,
		}
	}

	cand, err := svc.UpdateMatch(h.loadLatest(svc), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

// stepRunDTO is the wire form of one archived step run.
type stepRunDTO struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"sessionId"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"durationMs"`
	CreatedAt  string `json:"createdAt"`
}

// HandleHistory returns recent archived step runs, newest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	runs := []*archive.StepRun{}
	if arc := h.handle.Archive(); arc != nil {
		loaded, err := arc.RecentStepRuns(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		runs = loaded
	}

	out := make([]stepRunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, stepRunDTO{
			ID:         run.ID,
			SessionID:  run.SessionID,
			Step:       run.Step,
			Status:     run.Status,
			Detail:     run.Detail,
			DurationMs: run.DurationMs,
			CreatedAt:  run.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// HandleGetSettings returns the current application settings.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.handle.SettingsStore().Load())
}

// HandleUpdateSettings replaces the application settings and resets the
// service so the next request picks up new provider keys. The latest
// session pointer is unaffected.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInput, "failed to read request body", err))
		return
	}
	defer r.Body.Close()

	// Unmarshal over defaults so omitted fields keep their default values.
	updated := settings.Defaults()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &updated); err != nil {
			writeError(w, apperr.Wrap(apperr.KindInput, "invalid settings document", err))
			return
		}
	}

	if err := h.handle.SettingsStore().Save(updated); err != nil {
		writeError(w, err)
		return
	}
	h.handle.Reset()

	writeJSON(w, http.StatusOK, h.handle.SettingsStore().Load())
}

// loadLatest returns the latest session when one exists and still loads,
// otherwise nil. Callers treat nil as "no session".
func (h *Handler) loadLatest(svc *screener.Service) *session.Session {
	id, ok := h.handle.Latest()
	if !ok {
		return nil
	}
	sess, err := svc.GetSession(id)
	if err != nil {
		return nil
	}
	return sess
}
