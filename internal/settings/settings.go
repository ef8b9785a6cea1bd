// Package settings manages the runtime settings document: provider API keys
// and user preferences that can change without restarting the daemon. Unlike
// the TOML config file, settings.json is written by the daemon itself through
// the HTTP API, so reads stay forgiving: a missing or corrupt document
// yields defaults instead of an error.
package settings

import "time"

// DefaultProviderID is the market data provider assumed when the settings
// document does not name one.
const DefaultProviderID = "eodhd"

// ProviderKey is an API key stored for a market data provider.
type ProviderKey struct {
	Provider  string    `json:"provider"`
	APIKey    string    `json:"apiKey"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CachePreferences controls whether screener runs reuse cached payloads for
// the expensive fetch steps by default. Individual runs can still override
// these per request.
type CachePreferences struct {
	DataromaScrape bool `json:"dataromaScrape"`
	StockUniverse  bool `json:"stockUniverse"`
}

// Preferences holds the user-tunable behavior.
type Preferences struct {
	DefaultProvider string           `json:"defaultProvider"`
	Cache           CachePreferences `json:"cache"`
}

// AppSettings is the full settings document.
type AppSettings struct {
	ProviderKeys []ProviderKey `json:"providerKeys"`
	Preferences  Preferences   `json:"preferences"`
}

// Defaults returns the settings used when no document exists yet: no stored
// keys, the default provider, and cache reuse enabled for both fetch steps.
func Defaults() AppSettings {
	return AppSettings{
		ProviderKeys: []ProviderKey{},
		Preferences: Preferences{
			DefaultProvider: DefaultProviderID,
			Cache: CachePreferences{
				DataromaScrape: true,
				StockUniverse:  true,
			},
		},
	}
}

// KeyFor returns the stored API key for the given provider, if any.
func (s AppSettings) KeyFor(provider string) (ProviderKey, bool) {
	for _, k := range s.ProviderKeys {
		if k.Provider == provider {
			return k, true
		}
	}
	return ProviderKey{}, false
}
