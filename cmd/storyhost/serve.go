package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/storyhost/internal/app"
	"github.com/haukened/storyhost/internal/capacity"
	"github.com/haukened/storyhost/internal/config"
	"github.com/haukened/storyhost/internal/httpx"
	"github.com/haukened/storyhost/internal/janitor"
	"github.com/haukened/storyhost/internal/keys"
	"github.com/haukened/storyhost/internal/metrics"
	"github.com/haukened/storyhost/internal/store"
	"github.com/haukened/storyhost/internal/store/filesystem"
)

const shutdownTimeout = 15 * time.Second

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// serveFlags maps serve flags to configuration keys.
var serveFlags = []struct {
	name, key, usage string
}{
	{"addr", "addr", "listen address (ip:port or :port)"},
	{"data-dir", "data_dir", "storage root holding meta/, thumbnails/ and videos/"},
	{"max-stories", "max_stories", "maximum number of stored stories"},
	{"max-upload-bytes", "max_upload_bytes", "maximum size of one uploaded part (e.g. 5MiB)"},
	{"log-level", "log_level", "debug, info, warn or error"},
	{"log-format", "log_format", "text or json"},
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the story hosting server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				srv.close()
				return fmt.Errorf("listen: %w", err)
			}
			return srv.serve(ctx, ln)
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to a YAML config file (overrides "+config.ConfigFileEnv+")")
	for _, f := range serveFlags {
		cmd.Flags().String(f.name, "", f.usage)
	}
	return cmd
}

// loadConfig layers the explicitly set flags over the other sources.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := []config.Option{config.WithOverrides(flagOverrides(cmd))}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts = append(opts, config.WithFile(path))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	for _, f := range serveFlags {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		v, _ := cmd.Flags().GetString(f.name)
		out[f.key] = v
	}
	return out
}

// server holds the long-lived components of a running storyhost.
type server struct {
	cfg     *config.Config
	log     *slog.Logger
	items   *filesystem.ItemStore
	svc     *app.Service
	db      *sql.DB
	metrics *metrics.Manager
	janitor *janitor.Janitor
	http    *http.Server
}

// build wires every component and counts the stories already on disk.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	items, err := filesystem.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init item store: %w", err)
	}
	db, err := metrics.Open(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, err
	}
	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: log})
	if err := mgr.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}

	svc := &app.Service{
		Items:          items,
		Keys:           keys.New(),
		Capacity:       capacity.New(0),
		Clock:          realClock{},
		Metrics:        mgr,
		MaxStories:     cfg.MaxStories,
		MaxUploadBytes: cfg.MaxUploadBytes.Int64(),
	}
	stored, err := svc.Recount(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("count stored stories: %w", err)
	}
	log.Info("storage ready", "domain", "startup", "data_dir", cfg.DataDir, "stored", stored, "max_stories", cfg.MaxStories)

	jcfg := janitor.Config{Interval: cfg.JanitorInterval, Grace: cfg.OrphanGrace, Logger: log}
	if cfg.WatchMeta {
		jcfg.WatchDir = items.Dir(store.KindMeta)
	}

	s := &server{
		cfg:     cfg,
		log:     log,
		items:   items,
		svc:     svc,
		db:      db,
		metrics: mgr,
		janitor: janitor.New(svc, mgr, jcfg),
	}
	s.http = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *server) handler() http.Handler {
	h := httpx.New(s.svc, s.cfg.AuthKey, s.cfg.MaxUploadBytes.Int64(), s.ready)
	h.Logger = s.log
	h.Metrics = metrics.Handler(s.metrics, s.svc.Stored, s.cfg.MetricsToken)
	return h.Router()
}

// ready reports whether the storage directories and metrics database are usable.
func (s *server) ready(ctx context.Context) error {
	for _, k := range []store.Kind{store.KindMeta, store.KindThumbnail, store.KindVideo} {
		if _, err := os.Stat(s.items.Dir(k)); err != nil {
			return err
		}
	}
	return s.metrics.Ping(ctx)
}

// serve runs the HTTP server, janitor and metrics flusher until ctx is done
// or the listener fails, then stops them and releases the database.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	defer s.close()
	g, gctx := errgroup.WithContext(ctx)
	s.metrics.Start(gctx)
	defer s.metrics.Stop(context.Background())
	if err := s.janitor.Start(gctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start janitor: %w", err)
	}
	defer s.janitor.Stop()

	g.Go(func() error {
		s.log.Info("starting server", "addr", ln.Addr().String(), "pid", os.Getpid())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down", "domain", "shutdown")
		return s.http.Shutdown(sctx)
	})
	return g.Wait()
}

func (s *server) close() {
	if err := s.db.Close(); err != nil {
		s.log.Error("close metrics db", "error", err)
	}
}
