package config

// DefaultPort is the default port for the API server.
const DefaultPort = 8787

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.screenman"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "screenman.toml"

// DefaultMemoryEntries is the default capacity of the in-memory cache tier.
const DefaultMemoryEntries = 256

// DefaultScrapeBaseURL is the Dataroma grand-portfolio page.
const DefaultScrapeBaseURL = "https://www.dataroma.com/m/g/portfolio.php"

// DefaultScrapeUserAgent identifies the daemon to the scrape target.
const DefaultScrapeUserAgent = "Mozilla/5.0 (compatible; screenman/1.0)"

// DefaultProviderBaseURL is the EODHD API root.
const DefaultProviderBaseURL = "https://eodhd.com/api"

// DefaultProviderKeyRef is the default key reference for the EODHD token.
const DefaultProviderKeyRef = "keyring://screenman/eodhd"

// DefaultHTTPTimeout is the default upstream HTTP timeout in seconds.
const DefaultHTTPTimeout = 30

// DefaultFetchConcurrency is the default ceiling for concurrent
// per-exchange symbol fetches.
const DefaultFetchConcurrency = 12

// DefaultFuzzyThreshold is the default token-sort-ratio score floor.
const DefaultFuzzyThreshold = 85

// DefaultMatchWorkers is the default size of the match worker pool.
const DefaultMatchWorkers = 8

// DefaultRetentionDays is the default archive retention in days.
const DefaultRetentionDays = 30

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 30

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high enough to cover a full live scrape behind a single request.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultTracingExporter is the default span exporter.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the service name reported on spans.
const DefaultTracingServiceName = "screenman"

// DefaultTracingSampleRate samples every trace by default.
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed span exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Cache: CacheConfig{
			Dir:           "",
			MemoryEntries: DefaultMemoryEntries,
		},
		Sessions: SessionsConfig{
			Dir: "",
		},
		Scrape: ScrapeConfig{
			BaseURL:   DefaultScrapeBaseURL,
			UserAgent: DefaultScrapeUserAgent,
			Timeout:   DefaultHTTPTimeout,
		},
		Provider: ProviderConfig{
			BaseURL:            DefaultProviderBaseURL,
			KeyRef:             DefaultProviderKeyRef,
			Timeout:            DefaultHTTPTimeout,
			FetchConcurrency:   DefaultFetchConcurrency,
			MaxSymbolExchanges: 0,
		},
		Match: MatchConfig{
			FuzzyThreshold: DefaultFuzzyThreshold,
			Workers:        DefaultMatchWorkers,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			RetentionDays: DefaultRetentionDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    true,
		},
	}
}
