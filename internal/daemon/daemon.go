// Package daemon boots and supervises the screenman process: logging, the
// single-instance PID guard, the run archive, metrics, optional tracing,
// config and settings hot-reload, and the HTTP API server.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/screenman/internal/api"
	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/config"
	"github.com/allaspectsdev/screenman/internal/metrics"
	"github.com/allaspectsdev/screenman/internal/settings"
	"github.com/allaspectsdev/screenman/internal/tracing"
	"github.com/allaspectsdev/screenman/internal/version"
)

// Run wires up every subsystem, starts the API server, and blocks until
// a shutdown signal arrives or the server fails.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Logging.
	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logFile, err := initLogger(dataDir, foreground, cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("screenman starting")

	// 2. Single-instance guard.
	if IsRunning(dataDir) {
		return fmt.Errorf("screenman is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the run archive.
	var arc *archive.Archive
	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.ArchivePath())
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer a.Close()
		arc = a
		log.Info().Str("db_path", cfg.ArchivePath()).Msg("archive opened")
	}

	// 4. Metrics collector.
	collector := metrics.NewCollector()

	// 5. Tracing, when enabled.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		log.Info().
			Str("exporter", cfg.Tracing.Exporter).
			Str("endpoint", cfg.Tracing.Endpoint).
			Float64("sample_rate", cfg.Tracing.SampleRate).
			Msg("tracing initialised")
	}

	// 6. PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("could not remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("wrote PID file")

	// 7. Hot-reload the config file when one exists.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, err := os.Stat(configFile); err == nil {
		watcher, err := config.Watch(configFile)
		if err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(_, next *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(next.Server.LogLevel))
				log.Info().Msg("config reloaded from disk")
			})
			log.Info().Str("file", configFile).Msg("watching config file")
		}
	}

	// 8. Settings store and watcher. A settings change (new provider keys,
	// new defaults) discards the built screener service; the next request
	// rebuilds it.
	settingsStore := settings.NewStore(cfg.SettingsPath())
	handle := api.NewServiceHandle(cfg, settingsStore, arc, collector, log.Logger)

	settingsWatcher, err := settings.Watch(settingsStore, func(settings.AppSettings) {
		log.Info().Msg("settings changed on disk")
		handle.Reset()
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to start settings watcher; continuing without hot-reload")
	} else {
		defer settingsWatcher.Close()
	}

	// 9. Periodic archive pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, arc, cfg.Archive.RetentionDays)
	}()

	// 10. The API server.
	handler := api.NewHandler(handle, log.Logger)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := api.NewServer(handler, addr,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		time.Duration(cfg.Server.IdleTimeout)*time.Second,
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api server starting")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("screenman is ready")

	if foreground {
		fmt.Printf("\n  Screenman is running!\n")
		fmt.Printf("  API: http://localhost:%d/api\n\n", cfg.Server.Port)
	}

	// 11. Block until a shutdown signal or a fatal server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		return err
	}

	// 12. Graceful shutdown with a 30-second ceiling.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down server...")

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// 13. Wait for background goroutines; deferred cleanups close the
	// archive and remove the PID file.
	pruneCancel()
	<-prunerDone

	log.Info().Msg("screenman stopped")
	return nil
}

// initLogger routes zerolog to the daemon log file, plus a console writer
// in foreground mode, and returns the file handle for the caller to close.
func initLogger(dataDir string, foreground bool, level string) (*os.File, error) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	logPath := filepath.Join(dataDir, "screenman.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	sinks := []io.Writer{logFile}
	if foreground {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		With().Timestamp().Str("service", "screenman").Logger()
	return logFile, nil
}

// Stop signals the running daemon with SIGTERM and waits briefly for it to
// exit.
func Stop() error {
	dataDir := config.Get().DataDir()

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("screenman does not appear to be running: %w", err)
	}
	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not clean up stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("screenman is not running (cleaned up stale PID file)")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}
	fmt.Printf("Sent SIGTERM to screenman (PID %d)\n", pid)

	// Give it a moment to exit; lingering is not an error.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// Status reports whether the daemon is running and, when it is, pulls a
// stats summary from the API.
func Status() error {
	cfg := config.Get()
	dataDir := cfg.DataDir()

	if !IsRunning(dataDir) {
		fmt.Println("screenman is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("screenman is running (PID %d)\n", pid)
	printStats(cfg.Server.Port)
	return nil
}

// printStats is best-effort: a daemon that is up but unreachable only gets
// a one-line note.
func printStats(port int) {
	client := &http.Client{Timeout: 3 * time.Second}
	base := fmt.Sprintf("http://localhost:%d", port)

	health, err := client.Get(base + "/api/health")
	if err != nil {
		fmt.Println("  (api unreachable)")
		return
	}
	health.Body.Close()

	resp, err := client.Get(base + "/api/stats")
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var stats metrics.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return
	}

	fmt.Printf("\n  Uptime:           %s\n", stats.Uptime)
	fmt.Printf("  Total Requests:   %d\n", stats.TotalRequests)
	fmt.Printf("  Active:           %d\n", stats.ActiveRequests)
	fmt.Printf("  Holdings Scraped: %d\n", stats.HoldingsScraped)
	fmt.Printf("  Screener Rows:    %d\n", stats.ScreenerRows)
	fmt.Printf("  Step Runs:        %d\n", stats.StepRuns)
	fmt.Printf("  Cache Hit Rate:   %.1f%% (%d hits / %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
}

// runPruner deletes expired archive rows once an hour until ctx ends.
func runPruner(ctx context.Context, arc *archive.Archive, retentionDays int) {
	if arc == nil || retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneArchive(arc, retentionDays)
		}
	}
}

func pruneArchive(arc *archive.Archive, retentionDays int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("archive pruner: recovered from panic")
		}
	}()

	n, err := arc.Prune(retentionDays)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("archive pruning failed")
	case n > 0:
		log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned archive rows")
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// parseLogLevel maps a config log level to zerolog, defaulting to info.
func parseLogLevel(level string) zerolog.Level {
	if lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}
