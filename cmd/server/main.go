// cmd/server — 对话服务主入口。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexlab/cortex-chat/internal/agent"
	"github.com/cortexlab/cortex-chat/internal/chat"
	"github.com/cortexlab/cortex-chat/internal/config"
	"github.com/cortexlab/cortex-chat/internal/database"
	"github.com/cortexlab/cortex-chat/internal/store"
	"github.com/cortexlab/cortex-chat/pkg/logger"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel); err != nil {
			logger.Fatal("logger init failed", logger.Any(logger.FieldError, err))
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.Init(cfg.AppEnv, cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config invalid", logger.Any(logger.FieldError, err))
	}
	if cfg.PayloadLogEnabled {
		if err := os.MkdirAll(cfg.PayloadLogDir, 0o755); err != nil {
			logger.Warnw("payload dir init failed", logger.FieldPath, cfg.PayloadLogDir, logger.FieldError, err)
		}
	}

	// 持久化后端可选: 连不上时降级为纯对话模式 (turn 不落库)
	var turns *store.TurnStore
	var logs *store.SystemLogStore
	pool, err := database.NewPool(ctx, database.PoolOptions{
		ConnString: cfg.PostgresConnStr,
		MinConns:   cfg.PostgresPoolMinSize,
		MaxConns:   cfg.PostgresPoolMaxSize,
		Schema:     cfg.PostgresSchema,
	})
	if err != nil {
		logger.Warnw("database unavailable, persistence disabled", logger.FieldError, err)
	} else {
		defer pool.Close()
		if err := database.Migrate(ctx, pool, os.DirFS("./migrations")); err != nil {
			logger.Fatal("migration failed", logger.Any(logger.FieldError, err))
		}
		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()
		turns = store.NewTurnStore(pool)
		logs = store.NewSystemLogStore(pool)
	}

	client := agent.NewClient(cfg.AgentRunURL(), cfg.ThreadsURL(), cfg.AgentPAT,
		time.Duration(cfg.AgentTimeout)*time.Second)

	srv := chat.NewServer(cfg, client, turns, logs)

	logger.Infow("cortex-chat starting",
		logger.FieldAddr, cfg.ListenAddr,
		logger.FieldAgent, cfg.AgentName,
		logger.FieldModel, cfg.AgentModel)

	util.SafeGo(func() {
		if err := srv.Engine().Run(cfg.ListenAddr); err != nil {
			logger.Fatal("server failed", logger.Any(logger.FieldError, err))
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}
