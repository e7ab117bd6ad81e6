package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devauth/internal/config"
	"devauth/internal/grant"
	"devauth/internal/grant/pgstore"
	"devauth/internal/grant/redisstore"
	"devauth/internal/server"
	"devauth/pkg/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const purgeInterval = 10 * time.Minute

var (
	serveListen        string
	servePublicURL     string
	serveMetricsListen string
	serveStore         string
	serveWatchConfig   bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device authorization server",
	Long: `Run the authorization server side of the device flow.

The server exposes:
  POST /device/code     start a device authorization
  POST /device/token    poll for the access token
  GET  /device          verification page for end users
  POST /device/approve  approve a pending request (session required)
  POST /device/deny     deny a pending request (session required)
  GET  /userinfo        identity behind an access token
  GET  /healthz         liveness and store health

Prometheus metrics are served on a separate listener (--metrics-listen).

Grants are kept in memory by default. Set server.store.type to redis or
postgres in the config file, or pass --store, to share them between replicas.

With --watch-config the user directory is reloaded whenever config.yaml
changes, without dropping pending grants.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (default from config, :8080)")
	serveCmd.Flags().StringVar(&servePublicURL, "public-url", "", "Externally visible base URL used in verification links")
	serveCmd.Flags().StringVar(&serveMetricsListen, "metrics-listen", "", "Address of the metrics listener, empty to use the config")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Grant store: memory, redis or postgres")
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "Reload users when config.yaml changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if rootDebug {
		level = logging.LevelDebug
	}
	logging.InitForServer(level, cmd.ErrOrStderr())

	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openGrantStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	users := server.NewUserDirectory(cfg.Users)
	metrics := server.NewMetrics()
	srv, err := server.New(cfg, store, server.WithUserDirectory(users), server.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if users.Len() == 0 {
		logging.Warn("Serve", "No users configured, approve and deny will reject every session")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.MetricsListen != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsListen, metrics.Handler())
		})
	}

	if serveWatchConfig {
		g.Go(func() error {
			return config.Watch(gctx, rootConfigPath, func(updated config.Config) {
				users.Replace(updated.Server.Users)
				logging.Info("Serve", "User directory reloaded, %d user(s)", users.Len())
			})
		})
	}

	if purger, ok := store.(grantPurger); ok {
		g.Go(func() error {
			runPurgeLoop(gctx, purger, purgeInterval)
			return nil
		})
	}

	return g.Wait()
}

// loadServerConfig loads and validates the server section with flag overrides.
func loadServerConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	full, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return config.ServerConfig{}, err
	}
	cfg := full.Server

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = serveListen
	}
	if flags.Changed("public-url") {
		cfg.PublicURL = servePublicURL
	}
	if flags.Changed("metrics-listen") {
		cfg.MetricsListen = serveMetricsListen
	}
	if flags.Changed("store") {
		cfg.Store.Type = config.StoreType(serveStore)
	}

	if err := cfg.Validate(); err != nil {
		return config.ServerConfig{}, fmt.Errorf("invalid server configuration: %w", err)
	}
	return cfg, nil
}

// openGrantStore connects the configured grant store backend.
func openGrantStore(ctx context.Context, cfg config.StoreConfig) (grant.Store, error) {
	switch cfg.Type {
	case config.StoreTypeMemory, "":
		logging.Info("Serve", "Using in-memory grant store, grants are lost on restart")
		return grant.NewMemoryStore(grant.DefaultRetention), nil
	case config.StoreTypeRedis:
		store, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreTypePostgres:
		store, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown grant store type %q", cfg.Type)
	}
}

// grantPurger is implemented by stores that do not expire grants on their own.
type grantPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// runPurgeLoop removes grants that passed their deadline more than
// grant.DefaultRetention ago, every interval until ctx is cancelled.
func runPurgeLoop(ctx context.Context, p grantPurger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Purge(ctx, time.Now().Add(-grant.DefaultRetention))
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn("Serve", "Failed to purge expired grants: %v", err)
				}
				continue
			}
			if n > 0 {
				logging.Debug("Serve", "Purged %d expired grant(s)", n)
			}
		}
	}
}

// serveMetrics serves handler on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: server.DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Serve", "Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
