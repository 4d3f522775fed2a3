package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"libcatalog/pkg/catalog"
	"libcatalog/pkg/config"
	"libcatalog/pkg/confirm"
	"libcatalog/pkg/database"
	"libcatalog/pkg/feed"
	"libcatalog/pkg/logger"
	"libcatalog/pkg/replica"
	"libcatalog/pkg/store"
	"libcatalog/pkg/store/gormstore"
	"libcatalog/pkg/store/memstore"
	"libcatalog/pkg/view"
)

var (
	db       *gorm.DB
	zlog     = zap.NewNop()
	cache    *replica.Cache
	engine   *catalog.Engine
	sessions *view.Sessions
	confirms *confirm.Queue
	notices  *feed.Feed[catalog.Notice]
)

var rootCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Shared library catalog service",
	Long: `Serves the shared book catalog over HTTP. Settings come from flags or
CATALOG_<FLAG> environment variables (e.g. CATALOG_DB_DRIVER=sqlite), also
read from .env and .env.local.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	zlog, err = logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()
	zlog.Sugar().Infof("starting catalog service%s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	setup(st, cfg.Seed, cfg.ConfirmTTL, time.Now)
	go func() {
		if err := cache.Run(ctx, st); err != nil {
			zlog.Error("replica stopped", zap.Error(err))
			stop()
		}
	}()
	go purgeIdle(ctx, cfg.ConfirmTTL, cfg.SessionIdle)

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cache.WaitReady(readyCtx); err != nil {
		return errors.Wrap(err, "waiting for the first snapshot")
	}
	zlog.Info("replica loaded", zap.Int("records", cache.Len()))

	srv := &http.Server{Addr: cfg.Endpoint, Handler: newRouter()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zlog.Info("catalog service listening", zap.String("endpoint", cfg.Endpoint))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DB.Driver == database.DriverMemory {
		return memstore.New(memstore.WithMaxAttempts(cfg.TxMaxAttempts), memstore.WithLogger(zlog)), nil
	}

	var err error
	db, err = database.OpenCatalog(cfg.DB, zlog)
	if err != nil {
		return nil, err
	}
	gs := gormstore.New(db, gormstore.WithMaxAttempts(cfg.TxMaxAttempts), gormstore.WithLogger(zlog))
	if cfg.PollInterval > 0 {
		go gs.Watch(ctx, cfg.PollInterval)
	}
	return gs, nil
}

// setup wires the core components around st into the package state used by
// the handlers.
func setup(st store.Store, seed bool, confirmTTL time.Duration, now func() time.Time) {
	notices = feed.New[catalog.Notice]()

	var opts []replica.Option
	opts = append(opts, replica.WithLogger(zlog))
	if seed {
		opts = append(opts, replica.WithSeeder(func(ctx context.Context) error {
			return engine.Seed(ctx)
		}))
	}
	cache = replica.New(opts...)

	engine = catalog.NewEngine(st, cache,
		catalog.WithLogger(zlog),
		catalog.WithClock(now),
		catalog.WithNotifier(catalog.NotifierFunc(notices.Publish)),
	)
	sessions = view.NewSessions(cache, now)
	confirms = confirm.NewQueue(confirmTTL)
}

// purgeIdle drops expired confirmations and idle view sessions every
// interval until ctx is done.
func purgeIdle(ctx context.Context, every, sessionIdle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(sessionIdle)
		}
	}
}

func purgeOnce(sessionIdle time.Duration) {
	if n := confirms.Purge(); n > 0 {
		zlog.Debug("expired confirmations dropped", zap.Int("count", n))
	}
	if n := sessions.Evict(sessionIdle); n > 0 {
		zlog.Debug("idle sessions dropped", zap.Int("count", n))
	}
}

func newRouter() *gin.Engine {
	server := gin.Default()

	api := server.Group("/api/v1")
	api.GET("/books", listBooks)
	api.GET("/books/stream", streamBooks)
	api.GET("/books/:id", getBook)
	api.POST("/books", createBook)
	api.PUT("/books/:id", updateBook)
	api.DELETE("/books/:id", deleteBook)
	api.POST("/books/:id/borrow", borrowBook)
	api.POST("/books/:id/return", returnBook)

	api.GET("/confirmations", listConfirmations)
	api.POST("/confirmations/:confirmationUid", confirmAction)
	api.DELETE("/confirmations/:confirmationUid", cancelAction)

	api.PUT("/view/filter", setFilter)
	api.PUT("/view/search", setSearch)
	api.POST("/view/sort/:field", toggleSort)
	api.POST("/view/reset", resetView)

	server.GET("/manage/health", healthCheck)
	server.GET("/metrics", metricsHandler)
	return server
}
