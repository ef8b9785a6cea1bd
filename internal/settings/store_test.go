package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "settings.json"))
}

// ---- defaults ----

func TestDefaults(t *testing.T) {
	d := Defaults()

	if d.ProviderKeys == nil || len(d.ProviderKeys) != 0 {
		t.Errorf("ProviderKeys: got %#v, want empty non-nil slice", d.ProviderKeys)
	}
	if d.Preferences.DefaultProvider != "eodhd" {
		t.Errorf("DefaultProvider: got %q, want %q", d.Preferences.DefaultProvider, "eodhd")
	}
	if !d.Preferences.Cache.DataromaScrape || !d.Preferences.Cache.StockUniverse {
		t.Errorf("cache preferences: got %+v, want both true", d.Preferences.Cache)
	}
}

// ---- load ----

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)

	got := s.Load()
	if got.Preferences.DefaultProvider != "eodhd" {
		t.Errorf("DefaultProvider: got %q", got.Preferences.DefaultProvider)
	}
	if len(got.ProviderKeys) != 0 {
		t.Errorf("ProviderKeys: got %d entries, want 0", len(got.ProviderKeys))
	}
}

func TestLoad_CorruptFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	got := s.Load()
	if got.Preferences.DefaultProvider != "eodhd" {
		t.Errorf("DefaultProvider: got %q", got.Preferences.DefaultProvider)
	}
	if !got.Preferences.Cache.DataromaScrape {
		t.Errorf("DataromaScrape: got false, want default true")
	}
}

func TestLoad_PartialDocumentKeepsDefaults(t *testing.T) {
	s := newTestStore(t)
	doc := `{"providerKeys":[{"provider":"eodhd","apiKey":"abc","updatedAt":"2026-01-02T03:04:05Z"}]}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	got := s.Load()
	if len(got.ProviderKeys) != 1 || got.ProviderKeys[0].APIKey != "abc" {
		t.Fatalf("ProviderKeys: got %#v", got.ProviderKeys)
	}
	if got.Preferences.DefaultProvider != "eodhd" {
		t.Errorf("DefaultProvider: got %q, want default", got.Preferences.DefaultProvider)
	}
	if !got.Preferences.Cache.DataromaScrape || !got.Preferences.Cache.StockUniverse {
		t.Errorf("cache preferences: got %+v, want defaults", got.Preferences.Cache)
	}
}

func TestLoad_PartialCacheMergesPerField(t *testing.T) {
	s := newTestStore(t)
	doc := `{"preferences":{"cache":{"dataromaScrape":false}}}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	got := s.Load()
	if got.Preferences.Cache.DataromaScrape {
		t.Errorf("DataromaScrape: got true, want false from document")
	}
	if !got.Preferences.Cache.StockUniverse {
		t.Errorf("StockUniverse: got false, want default true")
	}
}

func TestLoad_LegacyReuseFlagCoversBothSteps(t *testing.T) {
	s := newTestStore(t)
	// The legacy flag wins even when per-step values are also present.
	doc := `{"preferences":{"reuseCacheByDefault":false,"cache":{"dataromaScrape":true,"stockUniverse":true}}}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	got := s.Load()
	if got.Preferences.Cache.DataromaScrape || got.Preferences.Cache.StockUniverse {
		t.Errorf("cache preferences: got %+v, want both false", got.Preferences.Cache)
	}
}

// ---- save ----

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := AppSettings{
		ProviderKeys: []ProviderKey{
			{Provider: "eodhd", APIKey: "secret-1", UpdatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)},
		},
		Preferences: Preferences{
			DefaultProvider: "eodhd",
			Cache:           CachePreferences{DataromaScrape: false, StockUniverse: true},
		},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if len(got.ProviderKeys) != 1 {
		t.Fatalf("ProviderKeys: got %d entries, want 1", len(got.ProviderKeys))
	}
	if got.ProviderKeys[0].APIKey != "secret-1" {
		t.Errorf("APIKey: got %q", got.ProviderKeys[0].APIKey)
	}
	if !got.ProviderKeys[0].UpdatedAt.Equal(in.ProviderKeys[0].UpdatedAt) {
		t.Errorf("UpdatedAt: got %v, want %v", got.ProviderKeys[0].UpdatedAt, in.ProviderKeys[0].UpdatedAt)
	}
	if got.Preferences.Cache.DataromaScrape {
		t.Errorf("DataromaScrape: got true, want false")
	}
	if !got.Preferences.Cache.StockUniverse {
		t.Errorf("StockUniverse: got false, want true")
	}
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "nested", "deeper", "settings.json"))

	if err := s.Save(Defaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("settings file missing after Save: %v", err)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(Defaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "settings.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents: got %v, want only settings.json", names)
	}
}

// ---- key lookup ----

func TestKeyFor(t *testing.T) {
	s := AppSettings{
		ProviderKeys: []ProviderKey{
			{Provider: "eodhd", APIKey: "abc"},
			{Provider: "other", APIKey: "def"},
		},
	}

	if k, ok := s.KeyFor("eodhd"); !ok || k.APIKey != "abc" {
		t.Errorf("KeyFor(eodhd): got (%+v, %v)", k, ok)
	}
	if _, ok := s.KeyFor("missing"); ok {
		t.Errorf("KeyFor(missing): got ok=true, want false")
	}
}
