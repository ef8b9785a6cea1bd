package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspectsdev/screenman/internal/cache"
	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
)

func sampleSession() *Session {
	sess := New()
	step := sess.EnsureStep(StepScrape)
	step.Status = StatusComplete
	step.Context = map[string]any{"source": "live", "entryCount": 2}

	sess.Dataroma = &dataroma.ScrapeResult{
		Entries: []dataroma.Entry{
			{Symbol: "AAPL", Stock: "Apple Inc."},
			{Symbol: "0700.HK", Stock: "Tencent Holdings"},
		},
		Source: dataroma.SourceLive,
	}
	sess.ProviderUniverse = &eodhd.Universe{
		Exchanges: &cache.Payload[[]eodhd.Exchange]{
			Descriptor: cache.Descriptor{Scope: "exchange-list", Provider: "eodhd", Key: "all"},
			Payload:    []eodhd.Exchange{{Code: "US", Name: "US exchanges"}},
			CreatedAt:  time.Now().UTC(),
		},
		Symbols: map[string]*cache.Payload[[]eodhd.Symbol]{
			"US": {
				Descriptor: cache.Descriptor{Scope: "exchange-symbols", Provider: "eodhd", Key: "US"},
				Payload:    []eodhd.Symbol{{Code: "AAPL", Name: "Apple Inc", Exchange: "US"}},
				CreatedAt:  time.Now().UTC(),
			},
		},
	}
	sess.Matches = []match.Candidate{
		{
			DataromaSymbol: "0700.HK",
			DataromaName:   "Tencent Holdings",
			Reasons:        []string{"Exchange HK data not available in EODHD files."},
			NotAvailable:   true,
		},
	}
	return sess
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := sampleSession()

	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load missed a saved session")
	}

	if got.ID != sess.ID {
		t.Errorf("id = %q, want %q", got.ID, sess.ID)
	}
	if len(got.Steps) != 1 || got.Steps[0].Step != StepScrape || got.Steps[0].Status != StatusComplete {
		t.Errorf("steps = %+v", got.Steps)
	}
	if got.Dataroma == nil || len(got.Dataroma.Entries) != 2 {
		t.Fatalf("dataroma = %+v", got.Dataroma)
	}
	if got.ProviderUniverse == nil || len(got.ProviderUniverse.Symbols["US"].Payload) != 1 {
		t.Errorf("providerUniverse = %+v", got.ProviderUniverse)
	}
	if len(got.Matches) != 1 || !got.Matches[0].NotAvailable {
		t.Errorf("matches = %+v", got.Matches)
	}

	// The step context survives the JSON round trip (values come back as
	// generic JSON types).
	ctx := got.Steps[0].Context
	if ctx["source"] != "live" {
		t.Errorf("context source = %v", ctx["source"])
	}
	if n, ok := ctx["entryCount"].(float64); !ok || n != 2 {
		t.Errorf("context entryCount = %v", ctx["entryCount"])
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, ok, err := store.Load("no-such-session")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load reported a session that was never saved")
	}
}

func TestStore_LoadCorruptTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{oops"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, ok, err := store.Load("bad")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load returned a corrupt session")
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := sampleSession()

	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess.EnsureStep(StepUniverse)
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save (second): %v", err)
	}

	got, ok, _ := store.Load(sess.ID)
	if !ok {
		t.Fatal("Load missed the session")
	}
	if len(got.Steps) != 2 {
		t.Errorf("got %d steps, want 2", len(got.Steps))
	}
}

func TestStore_AwkwardIDStaysLoadable(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := New()
	sess.ID = "../escape attempt"

	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok, _ := store.Load("../escape attempt"); !ok {
		t.Error("Load missed session saved under a sanitized id")
	}
}

// ---- step helpers ----

func TestEnsureStep_AppendsThenReuses(t *testing.T) {
	sess := New()

	first := sess.EnsureStep(StepUniverse)
	if first.Status != StatusRunning {
		t.Errorf("status = %q, want running", first.Status)
	}
	first.Status = StatusBlocked
	first.Context = map[string]any{"error": "boom"}

	again := sess.EnsureStep(StepUniverse)
	if again != first {
		t.Error("EnsureStep created a duplicate step")
	}
	if again.Status != StatusRunning || again.Context != nil {
		t.Errorf("rerun did not reset state: %+v", again)
	}
	if len(sess.Steps) != 1 {
		t.Errorf("got %d steps, want 1", len(sess.Steps))
	}
}

func TestFindStep(t *testing.T) {
	sess := New()
	sess.EnsureStep(StepScrape)

	if sess.FindStep(StepScrape) == nil {
		t.Error("FindStep missed an existing step")
	}
	if sess.FindStep(StepMatch) != nil {
		t.Error("FindStep invented a step")
	}
}
