// Package main provides the jam peer daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/jamtab/internal/api/connect"
	"github.com/osa030/jamtab/internal/app/filter"
	"github.com/osa030/jamtab/internal/app/notification"
	"github.com/osa030/jamtab/internal/app/session"
	"github.com/osa030/jamtab/internal/infra/config"
	"github.com/osa030/jamtab/internal/infra/discovery"
	"github.com/osa030/jamtab/internal/infra/logger"
	"github.com/osa030/jamtab/internal/infra/storage"
	"github.com/osa030/jamtab/internal/infra/transport/websocket"
)

var (
	app        = kingpin.New("jamd", "jamtab peer daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/jamd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides config)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available inbound filters and exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	zlog.Info().Msgf("Config loaded: path=%s device=%s", *configPath, cfg.Device.Name)

	// Run daemon (defer ensures cleanup happens before exit)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		_ = closer.Close()
		os.Exit(1)
	}
}

// run executes the main daemon logic.
func run(cfg *config.Config) error {
	if err := validateFilterConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	defer store.Close()

	directory, closeDirectory, err := newDirectory(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create discovery")
	}
	defer closeDirectory()

	transport := websocket.New(websocket.Config{
		ListenAddr:       cfg.Transport.ListenAddr,
		AdvertiseAddr:    cfg.Transport.AdvertiseAddr,
		Path:             cfg.Transport.Path,
		SendBuffer:       cfg.Transport.SendBuffer,
		HandshakeTimeout: cfg.HandshakeTimeout(),
	})

	sessionMgr, err := session.NewManager(session.Config{
		ConnectTimeout:   cfg.ConnectTimeout(),
		ScrollRatePerSec: cfg.Sync.ScrollRatePerSec,
		ScrollBurst:      cfg.Sync.ScrollBurst,
		Filters:          cfg.EnabledFilters(filter.DefaultNames()),
	}, transport, directory, store)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()

	notifications := notification.NewManager()
	detach := notifications.Attach(sessionMgr.Bus())
	defer detach()

	sessionMgr.OnError(func(err error) {
		zlog.Warn().Msgf("Session error: %v", err)
	})

	service := apiconnect.NewService(sessionMgr, notifications, cfg.SaveHistoryOnLeave())
	path, handler := service.Handler(
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.Control.Token)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting control API: addr=%s", cfg.Control.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "control API error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Leave first so peers see MEMBER_LEFT before the transport goes away
	if sessionMgr.GetCurrentSession() != nil {
		if err := sessionMgr.LeaveSession(shutdownCtx, cfg.SaveHistoryOnLeave()); err != nil {
			zlog.Error().Msgf("Failed to leave session: %v", err)
		}
	}

	// End event streams so Shutdown does not wait on them
	service.Close()
	notifications.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown control API: %v", err)
	}

	zlog.Info().Msg("Daemon stopped")
	return nil
}

// newDirectory builds the join code directory selected in config.
func newDirectory(cfg *config.Config) (session.Directory, func(), error) {
	switch cfg.Discovery.Kind {
	case "valkey":
		v, err := discovery.NewValkey(discovery.ValkeyConfig{
			Addrs:    cfg.Discovery.Valkey.Addrs,
			Password: cfg.Discovery.Valkey.Password,
			Prefix:   cfg.Discovery.Valkey.Prefix,
			TTL:      cfg.ValkeyTTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		zlog.Info().Msgf("Using valkey discovery: addrs=%v", cfg.Discovery.Valkey.Addrs)
		return v, v.Close, nil
	default:
		zlog.Info().Msgf("Using direct discovery: static=%d", len(cfg.Discovery.Static))
		return discovery.NewDirect(cfg.Discovery.Static), func() {}, nil
	}
}

// validateFilterConfig rejects filter entries that name no registered filter.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()
	for name := range cfg.Filters {
		if _, ok := registry[name]; !ok {
			return errors.Newf("unknown filter: %s", name)
		}
	}
	return nil
}

// printFilters prints available filters.
func printFilters() {
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
