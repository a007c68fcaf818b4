package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/config"
	"github.com/PortNumber53/adroom/backend/internal/dbmigrate"
	"github.com/PortNumber53/adroom/backend/internal/decision"
	"github.com/PortNumber53/adroom/backend/internal/execution"
	"github.com/PortNumber53/adroom/backend/internal/handlers"
	"github.com/PortNumber53/adroom/backend/internal/intelligence"
	"github.com/PortNumber53/adroom/backend/internal/middleware"
	"github.com/PortNumber53/adroom/backend/internal/optimizer"
	"github.com/PortNumber53/adroom/backend/internal/textgen"
	"github.com/PortNumber53/adroom/backend/internal/workers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	stopCh         chan os.Signal
	notify         func(c chan<- os.Signal, sig ...os.Signal)
}

func defaultDeps() deps {
	return deps{
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      func(db *sql.DB) error { return dbmigrate.Up(db, dbmigrate.SourceURL(os.Getenv)) },
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func resolvePort(getenv func(string) string) string {
	if p, err := strconv.Atoi(getenv("PORT")); err == nil && p > 0 {
		return strconv.Itoa(p)
	}
	return strconv.Itoa(config.DefaultPort)
}

func buildRouter(h *handlers.Handler, internal func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r, internal)
	return r
}

// app holds the background components that share the handler's store and realtime hub.
type app struct {
	handler   *handlers.Handler
	worker    *workers.AutonomousWorker
	optimizer *optimizer.Optimizer
	pipeline  *execution.Pipeline
	intel     *intelligence.Engine
	cleanup   *workers.IntelligenceCleanupWorker
}

func buildApp(db *sql.DB, cfg *config.Config) *app {
	var (
		text      *textgen.Client
		generator *decision.Generator
	)
	if cfg.OpenAIAPIKey != "" {
		text = textgen.NewClient(textgen.Config{APIKey: cfg.OpenAIAPIKey, APIURL: cfg.OpenAIAPIURL, Model: cfg.OpenAIModel})
		generator = decision.NewGenerator(text, nil)
	} else {
		log.Printf("[Config] OPENAI_API_KEY is not set; strategy generation and LLM sweeps are disabled")
	}

	h := handlers.New(db, handlers.Options{
		Generator:   generator,
		VerifyToken: cfg.FacebookVerifyToken,
		AppSecret:   cfg.FacebookAppSecret,
	})
	s := h.Store()
	fb := adplatform.NewClient(cfg.FacebookGraphURL, cfg.FacebookRateLimit, s, nil)

	a := &app{
		handler:   h,
		optimizer: optimizer.New(s, fb, h, nil),
		pipeline:  execution.New(s, fb, h, nil),
		cleanup:   &workers.IntelligenceCleanupWorker{Store: s, Interval: cfg.Cleanup.Interval},
	}
	if text != nil {
		a.worker = workers.NewAutonomousWorker(s, fb, text, nil)
		a.intel = intelligence.NewEngine(s, text, h, nil)
	} else {
		a.worker = workers.NewAutonomousWorker(s, fb, nil, nil)
	}

	h.RegisterSweep("worker", func(ctx context.Context) (any, error) { return a.worker.RunOnce(ctx) })
	h.RegisterSweep("optimizer", func(ctx context.Context) (any, error) { return a.optimizer.RunOnce(ctx) })
	h.RegisterSweep("performance", func(ctx context.Context) (any, error) { return a.pipeline.SyncPerformance(ctx) })
	h.RegisterSweep("content", func(ctx context.Context) (any, error) { return a.pipeline.PublishDueContent(ctx) })
	h.RegisterSweep("cleanup", func(ctx context.Context) (any, error) {
		n, err := a.cleanup.Cleanup(ctx)
		return map[string]int64{"deleted": n}, err
	})
	if a.intel != nil {
		h.RegisterSweep("intelligence", func(ctx context.Context) (any, error) { return a.intel.Gather(ctx) })
	}
	return a
}

// startSweeps launches one goroutine per enabled sweep. Each sweep runs its own passes sequentially.
func startSweeps(ctx context.Context, cfg *config.Config, a *app) {
	start := func(name string, sw config.Sweep, fn func(ctx context.Context) error) {
		if !sw.Enabled {
			log.Printf("[Scheduler] sweep=%s disabled", name)
			return
		}
		go workers.RunEvery(ctx, name, sw.Interval, nil, fn)
	}

	start("worker", cfg.Worker, func(ctx context.Context) error {
		_, err := a.worker.RunOnce(ctx)
		return err
	})
	start("optimizer", cfg.Optimizer, func(ctx context.Context) error {
		_, err := a.optimizer.RunOnce(ctx)
		return err
	})
	start("execution", cfg.Execution, func(ctx context.Context) error {
		_, syncErr := a.pipeline.SyncPerformance(ctx)
		_, pubErr := a.pipeline.PublishDueContent(ctx)
		return errors.Join(syncErr, pubErr)
	})
	if a.intel != nil {
		start("intelligence", cfg.Intelligence, func(ctx context.Context) error {
			_, err := a.intel.Gather(ctx)
			return err
		})
	}
	if cfg.Cleanup.Enabled {
		go a.cleanup.Start(ctx)
	}
}

func run(d deps) error {
	if d.getenv == nil {
		d.getenv = os.Getenv
	}
	cfg := config.Load(d.getenv)
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil {
		return fmt.Errorf("openDB dependency is required")
	}
	if d.listenAndServe == nil {
		return fmt.Errorf("listenAndServe dependency is required")
	}

	db, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if d.migrateUp != nil {
		if err := d.migrateUp(db); err != nil {
			return err
		}
		log.Println("Database is up-to-date")
	}

	// Root context for background sweeps and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := buildApp(db, cfg)
	r := buildRouter(a.handler, middleware.InternalAuth(cfg.InternalSecret))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := resolvePort(d.getenv)
	// Only header/idle timeouts: manual sweeps and the realtime stream hold connections open.
	srv := &http.Server{
		Handler:           c.Handler(r),
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	startSweeps(rootCtx, cfg, a)

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}
