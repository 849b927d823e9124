package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"CoSign-Chain/internal/api"
	"CoSign-Chain/internal/auth"
	"CoSign-Chain/internal/chain/provider"
	"CoSign-Chain/internal/codec"
	"CoSign-Chain/internal/config"
	"CoSign-Chain/internal/job"
	"CoSign-Chain/internal/observability/alerting"
	"CoSign-Chain/internal/observability/metrics"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	storagemysql "CoSign-Chain/internal/storage/mysql"
	"CoSign-Chain/internal/submit"
	"CoSign-Chain/internal/transfer"
	"CoSign-Chain/internal/txn"
	"CoSign-Chain/pkg/logger"
)

// main 是 CoSign 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("cosignd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("COSIGN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "cosign.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditFile != "",
			Path:       cfg.Logging.AuditFile,
			MaxSizeMB:  cfg.Logging.AuditMaxSize,
			MaxBackups: cfg.Logging.AuditBackups,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	chainRegistry, err := provider.NewRegistry(cfg.Chain)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	client, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	payer, keyring, err := loadSigners(cfg.Signing)
	if err != nil {
		return err
	}
	moduleAddr, err := codec.ParseAddress(cfg.Chain.ModuleAddress)
	if err != nil {
		return fmt.Errorf("chain.module_address 无效: %w", err)
	}

	builder := txn.NewBuilder(client,
		txn.WithGas(cfg.Chain.MaxGasAmount, cfg.Chain.GasUnitPrice),
		txn.WithTTL(cfg.Chain.TTL()),
	)
	coordinator := submit.NewCoordinator(client, payer,
		submit.WithBuilder(builder),
		submit.WithConfirmation(!cfg.Chain.SkipConfirmation, cfg.Chain.ConfirmationTimeout(), cfg.Chain.PollInterval()),
		submit.WithObserver(metrics.ObserveTransition),
		submit.WithLogger(logger.Named("submit")),
	)
	transfers, err := transfer.NewService(client, coordinator, keyring, payload.DefaultCatalog(moduleAddr), cfg.Chain.CoinType)
	if err != nil {
		return err
	}

	store, attempts, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg.JobQueue)
	if err != nil {
		_ = store.Close()
		_ = attempts.Close()
		return err
	}

	jobs := job.NewService(store, queue, cfg.Storage.JobStore.Retries, job.WithServiceAttempts(attempts))
	defer func() {
		if err := jobs.Close(); err != nil {
			logger.L().Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := job.NewProcessor(transfers, store, queue, queue,
		job.WithWorkerCount(cfg.JobQueue.Worker),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithRecoveryHandler(job.IdempotentRegistration{FeePayer: payer.Address().Hex()}),
		job.WithAlertDispatcher(newAlerter(cfg.Observability)),
		job.WithAttemptRepository(attempts),
		job.WithRetryBackoff(cfg.JobQueue.RetryBackoff()),
		job.WithAttemptTimeout(cfg.JobQueue.AttemptTimeout()),
	)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	if _, err := jobs.Resume(workerCtx); err != nil {
		logger.L().Warn("补投未完成任务失败", slog.Any("error", err))
	}
	go func() {
		if err := processor.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()
	go pollQueueDepth(workerCtx, queue, cfg.JobQueue.DepthPollInterval())

	exposeMetrics := !cfg.Observability.MetricsDisabled && cfg.Observability.MetricsAddress == ""
	if !cfg.Observability.MetricsDisabled && cfg.Observability.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(workerCtx, cfg.Observability.MetricsAddress); err != nil {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	authSvc, err := newAuth(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	server, err := api.NewServer(cfg.Server.Address, jobs, transfers,
		api.WithTimeouts(cfg.Server.ReadTimeout(), cfg.Server.WriteTimeout()),
		api.WithMetricsEndpoint(exposeMetrics),
		api.WithAuth(authSvc),
	)
	if err != nil {
		return err
	}
	logger.L().Info("cosignd 已启动",
		slog.String("chain", chainRegistry.DefaultChain()),
		slog.String("fee_payer", payer.Address().Hex()),
		slog.Int("managed_keys", len(keyring.Addresses())),
		slog.String("job_store", cfg.Storage.JobStore.Driver),
		slog.String("job_queue", cfg.JobQueue.Driver),
		slog.String("auth", cfg.Auth.Mode),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadSigners(cfg config.SigningConfig) (signer.Signer, *signer.Keyring, error) {
	key, err := cfg.FeePayerKey()
	if err != nil {
		return nil, nil, err
	}
	payer, err := signer.FromHex(key)
	if err != nil {
		return nil, nil, fmt.Errorf("手续费账户私钥无效: %w", err)
	}
	if cfg.KeyringFile == "" {
		return payer, signer.NewKeyring(), nil
	}
	keyring, err := signer.LoadKeyring(cfg.KeyringFile, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	return payer, keyring, nil
}

// openStores 按驱动创建任务存储与提交历史，mysql 驱动下二者共用连接池。
func openStores(ctx context.Context, cfg *config.Config) (job.Store, storagemysql.AttemptRepository, error) {
	switch cfg.Storage.JobStore.Driver {
	case "mysql":
		store, err := job.OpenMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.Storage.JobStore.DSN,
			MaxOpenConns:    cfg.Storage.JobStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.JobStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.JobStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, storagemysql.NewSQLAttemptRepository(store.DB()), nil
	default:
		attempts, err := storagemysql.NewFileAttemptRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return job.NewMemoryStore(), attempts, nil
	}
}

func openQueue(ctx context.Context, cfg config.JobQueueConfig) (job.Queue, error) {
	switch cfg.Driver {
	case "redis":
		queue, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return job.NewMemoryQueue(cfg.Buffer), nil
	}
}

func newAuth(ctx context.Context, cfg config.AuthConfig) (*auth.Service, error) {
	if auth.Mode(cfg.Mode) != auth.ModeJWT {
		return auth.NewService(ctx, auth.Config{Mode: auth.ModeDisabled}, nil)
	}
	secret, err := cfg.JWTSecret()
	if err != nil {
		return nil, err
	}
	seeds := make([]auth.Seed, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		seeds = append(seeds, auth.Seed{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Permissions:  u.Permissions,
			Disabled:     u.Disabled,
		})
	}
	store, err := auth.NewMemoryStore()
	if err != nil {
		return nil, err
	}
	return auth.NewService(ctx, auth.Config{
		Mode: auth.ModeJWT,
		JWT: auth.JWTOptions{
			Secret:     secret,
			Issuer:     cfg.Issuer,
			AccessTTL:  cfg.AccessTTLSeconds,
			RefreshTTL: cfg.RefreshTTLSeconds,
		},
		Seeds: seeds,
	}, store)
}

func newAlerter(cfg config.ObservabilityConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.AuditNotifier{}}
	if webhook := alerting.NewWebhookNotifier(cfg.AlertWebhooks, cfg.AlertTimeout()); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...)
}

func pollQueueDepth(ctx context.Context, queue job.Queue, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := queue.Depth(ctx)
			if err != nil {
				logger.L().Warn("读取队列积压失败", slog.Any("error", err))
				continue
			}
			metrics.SetQueueDepth(depth)
		}
	}
}
