package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"owngame/bot"
	"owngame/config"
	"owngame/handlers"
	"owngame/middleware"
	"owngame/models"
	"owngame/routes"
	"owngame/services"
	"owngame/store"
	"owngame/telemetry"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	lockTTL     = 2 * time.Minute
	snapshotTTL = 24 * time.Hour
)

func gameSettings(cfg *config.Config) services.Settings {
	t := cfg.Timeouts
	return services.Settings{
		MinPlayers: cfg.Rules.MinPlayers,
		MaxPlayers: map[models.Origin]int{
			models.OriginTelegram: cfg.Rules.MaxPlayers(models.OriginTelegram),
			models.OriginVK:       cfg.Rules.MaxPlayers(models.OriginVK),
		},
		Timeouts: services.Timeouts{
			Leading:           t.Leading,
			RegistrationStart: t.RegistrationStart,
			Registration:      t.Registration,
			Selection:         t.Selection,
			Press:             t.Press,
			Answer:            t.Answer,
			Checking:          t.Checking,
			CatCatcher:        t.CatCatcher,
			QuestionFinished:  t.QuestionFinished,
		},
	}
}

func loadQuestions(ctx context.Context, st *store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = services.ImportThemes(ctx, st, f)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "owngame")
	if err != nil {
		log.Fatal("Failed to set up tracing:", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	if cfg.QuestionsFile != "" {
		if err := loadQuestions(ctx, st, cfg.QuestionsFile); err != nil {
			log.Fatal("Failed to import questions:", err)
		}
	}

	// Snapshot feeds and chat locks
	hub := services.NewHub()
	feeds := services.Feeds{hub}
	var locker services.ChatLocker = services.NewMemoryLocker()
	var cache handlers.SnapshotReader
	if cfg.RedisEnabled {
		redisClient := config.InitRedis(cfg)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis:", err)
		}
		locker = services.NewRedisLocker(redisClient, lockTTL)
		snapshots := services.NewSnapshotCache(redisClient, snapshotTTL)
		feeds = append(feeds, snapshots)
		cache = snapshots
	}

	// Messenger adapters deliver through the HTTP ingress; outbound calls are logged.
	bots := bot.NewProxy(bot.NewLogMessenger("fallback"))
	bots.Register(models.OriginTelegram, bot.NewLogMessenger(string(models.OriginTelegram)))
	bots.Register(models.OriginVK, bot.NewLogMessenger(string(models.OriginVK)))

	// Initialize services
	scheduler := services.NewScheduler(st)
	gameHandlers := services.NewGameHandlers(st, scheduler, bots, feeds, gameSettings(cfg), nil)
	dispatcher := services.NewDispatcher(gameHandlers.Routes(), locker, cfg.Timeouts.Handler)

	if _, err := scheduler.Restore(ctx); err != nil {
		log.Fatal("Failed to restore scheduled events:", err)
	}

	// Initialize handlers
	updateHandler := handlers.NewUpdateHandler(dispatcher, gameHandlers)
	gameHandler := handlers.NewGameHandler(st, hub, cache)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, updateHandler, gameHandler, []byte(cfg.JWTSecret), cfg.APIKeyHash)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx, dispatcher)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Server stopped with error: %v", err)
	}

	// Timers, queued messages and anything published while draining stay in the
	// database for the next start.
	scheduler.Close()
	dispatcher.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Printf("Failed to flush traces: %v", err)
	}
	log.Println("Server stopped")
}
