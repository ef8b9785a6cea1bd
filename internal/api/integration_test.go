package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/cache"
	"github.com/allaspectsdev/screenman/internal/config"
	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/metrics"
	"github.com/allaspectsdev/screenman/internal/session"
	"github.com/allaspectsdev/screenman/internal/settings"
	"github.com/allaspectsdev/screenman/internal/testutil"
)

// setupIntegration creates the full API stack against the given upstream
// handlers: one for the Dataroma site, one for the provider REST API. The
// settings store is seeded with a provider key so token resolution never
// consults the OS keychain or the environment.
func setupIntegration(t *testing.T, dataromaHandler, eodhdHandler http.HandlerFunc) *Server {
	t.Helper()
	srv, _ := setupIntegrationStack(t, dataromaHandler, eodhdHandler)
	return srv
}

// setupIntegrationStack is setupIntegration plus the generated config, for
// tests that seed files under the data dir before making requests.
func setupIntegrationStack(t *testing.T, dataromaHandler, eodhdHandler http.HandlerFunc) (*Server, *config.Config) {
	t.Helper()

	scrapeSite := httptest.NewServer(dataromaHandler)
	t.Cleanup(scrapeSite.Close)
	providerAPI := httptest.NewServer(eodhdHandler)
	t.Cleanup(providerAPI.Close)

	cfg := testutil.NewTestConfig(t)
	cfg.Scrape.BaseURL = scrapeSite.URL
	cfg.Provider.BaseURL = providerAPI.URL
	cfg.Provider.KeyRef = ""

	store := settings.NewStore(cfg.SettingsPath())
	seeded := settings.Defaults()
	seeded.ProviderKeys = []settings.ProviderKey{{
		Provider:  settings.DefaultProviderID,
		APIKey:    "test-token",
		UpdatedAt: time.Now(),
	}}
	if err := store.Save(seeded); err != nil {
		t.Fatalf("seeding settings: %v", err)
	}

	handle := NewServiceHandle(cfg, store, testutil.NewTestArchive(t), metrics.NewCollector(), zerolog.Nop())
	handler := NewHandler(handle, zerolog.Nop())
	return NewServer(handler, ":0", 0, 0, 0), cfg
}

// stubDataroma serves a single-page grand portfolio with two holdings.
func stubDataroma() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, testutil.PortfolioHTML(1,
			testutil.Holding{Symbol: "AAPL", Stock: "Apple Inc."},
			testutil.Holding{Symbol: "MSFT", Stock: "Microsoft Corp."},
		))
	}
}

// stubEODHD serves one US exchange with two common stock listings and
// fundamentals for any requested symbol. It fails the test when a request
// arrives without the seeded token.
func stubEODHD(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_token"); got != "test-token" {
			t.Errorf("api_token: got %q, want %q", got, "test-token")
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/exchanges-list":
			_, _ = io.WriteString(w, testutil.ExchangesJSON("US"))
		case strings.HasPrefix(r.URL.Path, "/exchange-symbol-list/"):
			_, _ = io.WriteString(w, testutil.SymbolsJSON("US",
				testutil.Listing{Code: "AAPL", Name: "Apple Inc"},
				testutil.Listing{Code: "MSFT", Name: "Microsoft Corporation"},
			))
		case strings.HasPrefix(r.URL.Path, "/fundamentals/"):
			ref := strings.TrimPrefix(r.URL.Path, "/fundamentals/")
			code, _, _ := strings.Cut(ref, ".")
			_, _ = io.WriteString(w, testutil.FundamentalsJSON(code, code+" Inc", 24.5))
		default:
			http.NotFound(w, r)
		}
	}
}

// doRequest runs one request through the router and returns the recorder.
func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

// decodeSession parses a session document response.
func decodeSession(t *testing.T, w *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding session response: %v (body: %s)", err, w.Body.String())
	}
	return &sess
}

func requireStepStatus(t *testing.T, sess *session.Session, step session.Step, want session.Status) {
	t.Helper()
	st := sess.FindStep(step)
	if st == nil {
		t.Fatalf("step %s missing from session", step)
	}
	if st.Status != want {
		t.Fatalf("step %s status: got %s, want %s (context: %v)", step, st.Status, want, st.Context)
	}
}

func TestIntegration_FullPipeline(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	// Scrape.
	w := doRequest(t, srv, "POST", "/api/dataroma-screener/session", `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start session status: got %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("response missing X-Request-Id header")
	}
	sess := decodeSession(t, w)
	if sess.ID == "" {
		t.Fatal("session id is empty")
	}
	requireStepStatus(t, sess, session.StepScrape, session.StatusComplete)
	if len(sess.Dataroma.Entries) != 2 {
		t.Fatalf("scraped entries: got %d, want 2", len(sess.Dataroma.Entries))
	}

	// Universe.
	w = doRequest(t, srv, "POST", "/api/dataroma-screener/session/"+sess.ID+"/universe", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("universe status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	sess = decodeSession(t, w)
	requireStepStatus(t, sess, session.StepUniverse, session.StatusComplete)
	us, ok := sess.ProviderUniverse.Symbols["US"]
	if !ok {
		t.Fatal("universe missing US exchange")
	}
	if len(us.Payload) != 2 {
		t.Fatalf("US symbols: got %d, want 2", len(us.Payload))
	}

	// Universe search by company name.
	w = doRequest(t, srv, "GET", "/api/dataroma-screener/universe/search?query=apple", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var search struct {
		Results []struct {
			Code string `json:"code"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &search); err != nil {
		t.Fatalf("decoding search response: %v", err)
	}
	if len(search.Results) != 1 || search.Results[0].Code != "AAPL" {
		t.Fatalf("search results: got %+v, want one AAPL hit", search.Results)
	}

	// Match.
	w = doRequest(t, srv, "POST", "/api/dataroma-screener/session/"+sess.ID+"/matches", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("match status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	sess = decodeSession(t, w)
	requireStepStatus(t, sess, session.StepMatch, session.StatusComplete)
	if len(sess.Matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(sess.Matches))
	}
	for _, cand := range sess.Matches {
		if cand.ProviderSymbol == nil {
			t.Errorf("candidate %s has no provider symbol (reasons: %v)", cand.DataromaSymbol, cand.Reasons)
		}
	}

	// Manual correction.
	w = doRequest(t, srv, "PUT", "/api/dataroma-screener/matches", `{"dataromaSymbol":"MSFT","notAvailable":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update match status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var cand struct {
		NotAvailable   bool `json:"notAvailable"`
		ProviderSymbol any  `json:"providerSymbol"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cand); err != nil {
		t.Fatalf("decoding candidate: %v", err)
	}
	if !cand.NotAvailable {
		t.Error("candidate should be marked not available")
	}
	if cand.ProviderSymbol != nil {
		t.Errorf("provider symbol should be cleared, got %v", cand.ProviderSymbol)
	}

	// Restore the match so the screener sees both symbols.
	w = doRequest(t, srv, "PUT", "/api/dataroma-screener/matches",
		`{"dataromaSymbol":"MSFT","providerSymbol":{"code":"MSFT","exchange":"US"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("restore match status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	// Screener.
	w = doRequest(t, srv, "POST", "/api/dataroma-screener/session/"+sess.ID+"/screener", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("screener status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	sess = decodeSession(t, w)
	requireStepStatus(t, sess, session.StepScreener, session.StatusComplete)
	if len(sess.ScreenerRows) != 2 {
		t.Fatalf("screener rows: got %d, want 2", len(sess.ScreenerRows))
	}
	for _, row := range sess.ScreenerRows {
		if row.TrailingPE == nil || *row.TrailingPE != 24.5 {
			t.Errorf("row %s trailing PE: got %v, want 24.5", row.StockCode, row.TrailingPE)
		}
		if row.FreeCashFlowMargin == nil || *row.FreeCashFlowMargin != 0.25 {
			t.Errorf("row %s FCF margin: got %v, want 0.25", row.StockCode, row.FreeCashFlowMargin)
		}
	}

	// Session lookups.
	w = doRequest(t, srv, "GET", "/api/dataroma-screener/session/"+sess.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get session status: got %d, want %d", w.Code, http.StatusOK)
	}
	w = doRequest(t, srv, "GET", "/api/dataroma-screener/session/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest session status: got %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeSession(t, w).ID; got != sess.ID {
		t.Errorf("latest session id: got %s, want %s", got, sess.ID)
	}

	// Run history: one archived run per executed step.
	w = doRequest(t, srv, "GET", "/api/dataroma-screener/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var history struct {
		Runs []stepRunDTO `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(history.Runs) != 4 {
		t.Fatalf("archived runs: got %d, want 4", len(history.Runs))
	}

	// Stats.
	w = doRequest(t, srv, "GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status: got %d, want %d", w.Code, http.StatusOK)
	}
	var stats metrics.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.HoldingsScraped != 2 {
		t.Errorf("holdings scraped: got %d, want 2", stats.HoldingsScraped)
	}
	if stats.ScreenerRows != 2 {
		t.Errorf("screener rows: got %d, want 2", stats.ScreenerRows)
	}
	if stats.StepRuns != 4 {
		t.Errorf("step runs: got %d, want 4", stats.StepRuns)
	}
	if stats.TotalRequests == 0 {
		t.Error("total requests should be counted")
	}

	// Prometheus exposition.
	w = doRequest(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`screenman_step_runs_total{status="complete",step="scrape"} 1`,
		`screenman_step_runs_total{status="complete",step="screener"} 1`,
		`screenman_universe_symbols{exchange="US"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestIntegration_ScrapeFailureBlocksSession(t *testing.T) {
	srv := setupIntegration(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		stubEODHD(t),
	)

	w := doRequest(t, srv, "POST", "/api/dataroma-screener/session", `{}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d (body: %s)", w.Code, http.StatusBadGateway, w.Body.String())
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	if envelope.Error.Type != "screener_error" {
		t.Errorf("error type: got %q, want %q", envelope.Error.Type, "screener_error")
	}
	if envelope.Error.Message == "" {
		t.Error("error message is empty")
	}
}

func TestIntegration_CachedScrapeSession(t *testing.T) {
	noScrape := func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected scrape fetch: %s", r.URL)
		http.Error(w, "offline", http.StatusBadGateway)
	}
	srv, cfg := setupIntegrationStack(t, noScrape, stubEODHD(t))

	store, err := cache.NewStore(cfg.CacheDir(), 0)
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	desc := cache.Descriptor{Scope: "scrape", Provider: dataroma.ProviderID, Key: "grand-portfolio_v2_0_max-all"}
	seed := []dataroma.Entry{
		{Symbol: "AAPL", Stock: "Apple Inc."},
		{Symbol: "BRK.B", Stock: "Berkshire Hathaway"},
	}
	if _, err := cache.Write(store, desc, seed); err != nil {
		t.Fatalf("seeding scrape cache: %v", err)
	}

	w := doRequest(t, srv, "POST", "/api/dataroma-screener/session", `{"useCache":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	sess := decodeSession(t, w)
	if sess.Dataroma == nil || sess.Dataroma.Source != dataroma.SourceCache {
		t.Fatalf("scrape source: got %+v, want cache", sess.Dataroma)
	}
	if len(sess.Dataroma.Entries) != 2 {
		t.Errorf("entries: got %d, want 2", len(sess.Dataroma.Entries))
	}
	requireStepStatus(t, sess, session.StepScrape, session.StatusComplete)
}

func TestIntegration_MatchesBeforeUniverse(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "POST", "/api/dataroma-screener/session", `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("starting session: %d (body: %s)", w.Code, w.Body.String())
	}
	sess := decodeSession(t, w)

	w = doRequest(t, srv, "POST", "/api/dataroma-screener/session/"+sess.ID+"/matches", `{}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d (body: %s)", w.Code, http.StatusConflict, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "universe") {
		t.Errorf("error should mention the missing universe: %s", w.Body.String())
	}
}

func TestIntegration_SessionNotFound(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "GET", "/api/dataroma-screener/session/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(t, srv, "POST", "/api/dataroma-screener/session/no-such-id/universe", `{}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("universe on missing session: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestIntegration_LatestSessionBeforeAnyRun(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "GET", "/api/dataroma-screener/session/latest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestIntegration_InvalidBody(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "POST", "/api/dataroma-screener/session", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status: got %q, want %q", body["status"], "ok")
	}
}

func TestIntegration_SettingsRoundTrip(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "GET", "/api/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get settings status: got %d, want %d", w.Code, http.StatusOK)
	}
	var current settings.AppSettings
	if err := json.Unmarshal(w.Body.Bytes(), &current); err != nil {
		t.Fatalf("decoding settings: %v", err)
	}
	if _, ok := current.KeyFor(settings.DefaultProviderID); !ok {
		t.Fatal("seeded provider key missing from settings")
	}

	update := `{"preferences":{"defaultProvider":"eodhd","cache":{"dataromaScrape":false,"stockUniverse":true}}}`
	w = doRequest(t, srv, "PUT", "/api/settings", update)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	w = doRequest(t, srv, "GET", "/api/settings", "")
	var updated settings.AppSettings
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding updated settings: %v", err)
	}
	if updated.Preferences.Cache.DataromaScrape {
		t.Error("dataromaScrape preference should be off after update")
	}
	if !updated.Preferences.Cache.StockUniverse {
		t.Error("stockUniverse preference should stay on")
	}
}

func TestIntegration_UnknownEndpoint(t *testing.T) {
	srv := setupIntegration(t, stubDataroma(), stubEODHD(t))

	w := doRequest(t, srv, "POST", "/api/unknown", `{}`)
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 404 or 405", w.Code)
	}
}
