package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/gamechat/backend/internal/config"
	"github.com/zhouzirui/gamechat/backend/internal/handler"
	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/service/ai"
	"github.com/zhouzirui/gamechat/backend/internal/service/chat"
	"github.com/zhouzirui/gamechat/backend/internal/service/events"
	"github.com/zhouzirui/gamechat/backend/internal/store"
)

// openStore 便于测试替换存储实现
var openStore = store.Open

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		stop()
		os.Exit(1)
	}
}

// run 完成初始化并阻塞到服务退出, 返回前关闭存储
func run(ctx context.Context) error {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if envErr != nil {
		logging.Debug().Err(envErr).Msg(".env not loaded, using system environment only")
	}

	st, err := openStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close store")
		}
	}()

	recommender, aiMode := buildRecommender(ctx, cfg.AI)

	hub := events.NewHub()
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("event hub stopped unexpectedly")
		}
	}()

	chatService := chat.NewService(st, recommender, hub)

	router := handler.NewRouter(handler.Options{
		Chat:        chatService,
		Hub:         hub,
		CORSOrigins: cfg.Server.CORSOrigins,
		StoreDriver: cfg.Store.Driver,
		AIMode:      aiMode,
	})

	return startServer(ctx, cfg.Server, router)
}

// buildRecommender 优先使用 Ark 模型, 未配置或初始化失败时退回离线推荐
func buildRecommender(ctx context.Context, aiCfg config.AIConfig) (ai.Recommender, string) {
	if !aiCfg.Enabled() {
		logging.Warn().Msg("Ark 凭证未配置, 使用离线推荐")
		return ai.NewStaticRecommender(), "offline"
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to create Ark chat model, 请检查 Ark 模型相关环境变量")
		return ai.NewStaticRecommender(), "offline"
	}

	svc, err := ai.NewService(ctx, chatModel)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize AI service, using offline recommendations")
		return ai.NewStaticRecommender(), "offline"
	}

	logging.Info().Str("model", aiCfg.Model).Msg("AI service initialized")
	return svc, "ark"
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Info().Str("addr", serverCfg.Addr).Msg("game chat backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logging.Info().Msg("server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
