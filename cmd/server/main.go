package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/ai"
	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/SimoSabev/LynkSkill-sub001/internal/config"
	"github.com/SimoSabev/LynkSkill-sub001/internal/db"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/handlers"
	"github.com/SimoSabev/LynkSkill-sub001/internal/logging"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/gormstore"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/rabbitmq"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/redisstore"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	var backend chat.PartitionStore
	switch cfg.StoreBackend {
	case "redis":
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		defer rds.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(pingCtx); err != nil {
			// sessions still work in memory; saves report persistence errors
			logger.Warn("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		backend = rds
	default:
		gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			logger.Fatal("db connect", zap.String("driver", cfg.DBDriver), zap.Error(err))
		}
		backend = gormstore.NewRepo(gdb)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := newRegistry(cfg).Get(ctx, cfg.Gateway, cfg.GatewayModel)
	if err != nil {
		logger.Fatal("assistant gateway", zap.String("gateway", cfg.Gateway), zap.Error(err))
	}

	var events chat.EventPublisher
	if cfg.RabbitEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn("rabbit unavailable, turn events disabled", zap.Error(err))
		} else {
			defer pub.Close()
			events = pub
		}
	}

	pool := chat.NewPool(backend, gateway, events, logger, cfg.TurnTimeout)
	h := handlers.NewHandler(pool, logger.Named("api"))

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg.JWTSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreBackend),
			zap.String("gateway", cfg.Gateway),
			zap.Bool("turn_events", events != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")

		// in-flight turns may run up to the turn timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("http", func(ctx context.Context, model string) (chat.Gateway, error) {
		_ = ctx
		return ai.NewHTTPGateway(cfg.GatewayURL, cfg.TurnTimeout), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (chat.Gateway, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewLLMGateway(ai.NewOllamaProvider(cfg.OllamaBaseURL, m), cfg.ChatContextWindowSize), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (chat.Gateway, error) {
		_ = ctx
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		p := ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
		return ai.NewLLMGateway(p, cfg.ChatContextWindowSize), nil
	})

	return reg
}
