package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"proxypay/internal/config"
	"proxypay/internal/gateway"
	"proxypay/internal/handler"
	"proxypay/internal/infrastructure/cache"
	"proxypay/internal/infrastructure/database"
	"proxypay/internal/infrastructure/lock"
	"proxypay/internal/infrastructure/logger"
	"proxypay/internal/infrastructure/mq"
	"proxypay/internal/job"
	"proxypay/internal/repository"
	"proxypay/internal/repository/memory"
	"proxypay/internal/service"
	"proxypay/pkg/idgen"
	"proxypay/pkg/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stores 一组存储实现，memory 驱动和数据库驱动二选一
type stores struct {
	accounts service.AccountStore
	configs  cache.ConfigSource
	orders   service.OrderStore
	ledger   service.LedgerStore
	outbox   job.OutboxStore
	close    func() error
}

func openStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	topic := cfg.Kafka.Topic.OrderResult

	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("使用内存存储，重启后数据丢失")
		s := memory.New(topic)
		return &stores{
			accounts: s.Accounts(),
			configs:  s.Configs(),
			orders:   s.Orders(),
			ledger:   s.Ledger(),
			outbox:   s.Outbox(),
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}
	return newDBStores(db, topic), nil
}

func newDBStores(db *gorm.DB, topic string) *stores {
	return &stores{
		accounts: repository.NewAccountRepository(db),
		configs:  repository.NewConfigRepository(db),
		orders:   repository.NewOrderRepository(db, topic),
		ledger:   repository.NewTransactionRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		close:    func() error { return database.Close(db) },
	}
}

func newGateway(cfg *config.GatewayConfig, log *zap.Logger) (gateway.Gateway, error) {
	reported := decimal.Zero
	if cfg.ReportedBalance != "" {
		v, err := decimal.NewFromString(cfg.ReportedBalance)
		if err != nil {
			return nil, fmt.Errorf("gateway.reported_balance 格式错误: %w", err)
		}
		reported = v
	}

	sim := gateway.NewSimulator(gateway.SimulatorConfig{
		Latency:         cfg.Latency,
		DeclineRatio:    cfg.DeclineRatio,
		LoginFailRatio:  cfg.LoginFailRatio,
		ReportedBalance: reported,
	})
	return gateway.NewBreaker(sim, gateway.BreakerConfig{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		HalfOpenRequests:    cfg.Breaker.HalfOpenRequests,
	}, log), nil
}

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		return fmt.Errorf("初始化 ID 生成器失败: %w", err)
	}

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var (
		configs service.ConfigStore = st.configs
		locker  service.OrderLocker
	)
	if cfg.Redis.Enabled {
		client, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { c.Close() }(client)

		configs = cache.NewCachedConfigStore(st.configs, client, cfg.Routing.ConfigCacheTTL, log)
		locker = lock.NewSettleLocker(client, cfg.Settlement.LockTTL, log)
	} else {
		log.Warn("Redis 未启用，结算互斥只依赖数据库条件更新")
	}

	gw, err := newGateway(&cfg.Gateway, log)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	engine := service.NewAllocationEngine(st.accounts, configs, service.AllocationOptions{
		ReservationTTL: cfg.Routing.ReservationTTL,
	}, collector, log)
	coordinator := service.NewSettlementCoordinator(engine, st.orders, st.accounts, st.ledger, gw, locker, service.SettlementOptions{
		GatewayTimeout: cfg.Settlement.GatewayTimeout,
		MaxAttempts:    cfg.Settlement.MaxAttempts,
		DebitRetries:   cfg.Settlement.DebitRetries,
	}, collector, log)

	accountService := service.NewAccountService(st.accounts, st.ledger, gw, collector, log)
	orderService := service.NewOrderService(st.orders, coordinator, log)

	h := handler.NewHandler(handler.Services{
		Accounts: accountService,
		Orders:   orderService,
		Pay:      service.NewPayService(st.orders, coordinator, log),
		Config:   service.NewRoutingConfigService(engine, configs, log),
	}, log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动后台任务
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(st.outbox, producer, cfg.Jobs.OutboxInterval, cfg.Jobs.OutboxBatchSize, cfg.Jobs.OutboxMaxRetry, log)
		go outboxSender.Start(ctx)
	} else {
		log.Warn("Kafka 未启用，订单结果事件只保留在 outbox 表")
	}

	go job.NewPendingOrderTimeoutJob(orderService, cfg.Jobs.OrderCheckInterval, cfg.Jobs.OrderTimeout, log).Start(ctx)
	go job.NewAllocatedOrderCompensateJob(orderService, cfg.Jobs.OrderCheckInterval, cfg.Jobs.CompensateAfter, log).Start(ctx)
	go job.NewAccountHealthJob(accountService, cfg.Jobs.HealthInterval, log).Start(ctx)

	router := handler.SetupRouter(h, handler.RouterOptions{
		Mode:        cfg.Server.Mode,
		Metrics:     collector,
		MetricsPath: cfg.Metrics.Path,
	}, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务启动失败: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("正在关闭服务...")
	stop()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}

func migrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return errors.New("memory 驱动不需要迁移")
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}
	fmt.Println("数据库迁移完成")
	return nil
}
