package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/allaspectsdev/screenman/internal/apperr"
)

// Store reads and writes the settings document at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// rawSettings mirrors AppSettings with optional fields so a partial document
// can be merged over Defaults without zeroing whatever it omits.
type rawSettings struct {
	ProviderKeys *[]ProviderKey  `json:"providerKeys"`
	Preferences  *rawPreferences `json:"preferences"`
}

type rawPreferences struct {
	DefaultProvider *string              `json:"defaultProvider"`
	Cache           *rawCachePreferences `json:"cache"`

	// Older documents carried a single boolean covering both cache flags.
	ReuseCacheByDefault *bool `json:"reuseCacheByDefault"`
}

type rawCachePreferences struct {
	DataromaScrape *bool `json:"dataromaScrape"`
	StockUniverse  *bool `json:"stockUniverse"`
}

// Load reads the settings document and merges it over Defaults. A missing or
// unparseable document yields Defaults: settings must never block the daemon.
func (s *Store) Load() AppSettings {
	out := Defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return out
	}

	var raw rawSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}

	if raw.ProviderKeys != nil {
		out.ProviderKeys = *raw.ProviderKeys
	}
	if p := raw.Preferences; p != nil {
		if p.DefaultProvider != nil {
			out.Preferences.DefaultProvider = *p.DefaultProvider
		}
		if c := p.Cache; c != nil {
			if c.DataromaScrape != nil {
				out.Preferences.Cache.DataromaScrape = *c.DataromaScrape
			}
			if c.StockUniverse != nil {
				out.Preferences.Cache.StockUniverse = *c.StockUniverse
			}
		}
		// The legacy flag wins over per-step values when both are present,
		// matching how documents were upgraded in place.
		if p.ReuseCacheByDefault != nil {
			out.Preferences.Cache.DataromaScrape = *p.ReuseCacheByDefault
			out.Preferences.Cache.StockUniverse = *p.ReuseCacheByDefault
		}
	}

	return out
}

// Save writes the settings document with human-friendly indentation. The
// write goes through a temp file and rename so a crash mid-write never
// leaves a truncated document behind.
func (s *Store) Save(settings AppSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "settings: encoding document", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorage, "settings: creating directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "settings: creating temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "settings: writing document", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "settings: closing temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "settings: replacing document", err)
	}
	return nil
}
