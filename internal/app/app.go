// Package app 组装 eidos-wallet 的全部组件并管理其生命周期
//
// 启动顺序: 存储 (redis 或 postgres) → 链客户端与 bundler → 钱包后端 →
// 账本与服务 → 事件订阅 (metrics、Kafka) → 巡检调度 → gRPC 健康检查与 /metrics。
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/config"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/scheduler"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/service"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/wallet"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db     *gorm.DB
	redis  redis.UniversalClient
	kv     repository.KVStore
	credKV repository.KVStore // redis 驱动下带 ttl，其余情况与 kv 相同

	// 区块链
	chainClient *blockchain.Client
	bundler     *blockchain.BundlerClient

	// 钱包
	injected   *wallet.InjectedWallet
	smart      *wallet.SmartAccount
	resolver   *wallet.Resolver
	ledger     repository.TransactionLedger
	bus        *event.Bus
	submission *service.SubmissionService
	confirm    *service.ConfirmationService

	// 外部依赖，未配置时使用 unconfiguredSmartAccount
	passkey PasskeyAuthenticator
	builder UserOperationBuilder

	// Kafka
	kafkaProducer  *kafka.Producer
	eventPublisher *kafka.KafkaEventPublisher

	scheduler *scheduler.Scheduler

	grpcServer    *grpc.Server
	healthServer  *health.Server
	metricsServer *http.Server

	stopCh chan struct{}
}

// PasskeyAuthenticator WebAuthn 仪式实现
type PasskeyAuthenticator = wallet.PasskeyAuthenticator

// UserOperationBuilder 用户操作构造实现
type UserOperationBuilder = wallet.UserOperationBuilder

// Option 应用选项
type Option func(*App)

// WithSmartAccountSDK 注入 Passkey 认证器与用户操作构造器
func WithSmartAccountSDK(auth PasskeyAuthenticator, builder UserOperationBuilder) Option {
	return func(a *App) {
		a.passkey = auth
		a.builder = builder
	}
}

// NewApp 创建应用
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initWallets()
	app.initServices()

	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		return nil, fmt.Errorf("failed to init scheduler: %w", err)
	}

	app.initServers()

	return app, nil
}

// initStorage 初始化设备本地存储
func (a *App) initStorage() error {
	switch a.cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			a.cfg.Postgres.Host,
			a.cfg.Postgres.Port,
			a.cfg.Postgres.User,
			a.cfg.Postgres.Password,
			a.cfg.Postgres.Database,
		)

		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
		sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

		if err := db.AutoMigrate(&model.KVEntry{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}

		a.db = db
		a.kv = repository.NewGormKVStore(db)
		logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))
	}

	// 巡检锁始终使用 redis；redis 驱动下同时作为存储
	if len(a.cfg.Redis.Addresses) > 0 {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    a.cfg.Redis.Addresses,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		if err := a.redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		logger.Info("redis connected", zap.Strings("addrs", a.cfg.Redis.Addresses))
	}

	if a.kv == nil {
		if a.redis == nil {
			return errors.New("redis is required for storage driver redis")
		}
		a.kv, a.credKV = redisStores(a.redis, time.Duration(a.cfg.Storage.TTLHours)*time.Hour)
	}
	if a.credKV == nil {
		a.credKV = a.kv
	}
	return nil
}

// redisStores 返回账本与凭证使用的存储，ttl 只作用于凭证键，账本键永不过期
func redisStores(rdb redis.UniversalClient, ttl time.Duration) (ledgerKV, credentialKV repository.KVStore) {
	return repository.NewRedisKVStore(rdb, 0), repository.NewRedisKVStore(rdb, ttl)
}

// initBlockchain 初始化链客户端与 bundler
func (a *App) initBlockchain() error {
	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		PrivateKey:      a.cfg.Blockchain.PrivateKey,
		RPCURLs:         a.cfg.Blockchain.RPCURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
		PollInterval:    time.Duration(a.cfg.Blockchain.PollIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.chainClient = client

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.Bool("signer", client.HasSigner()),
	)

	if a.cfg.Bundler.URL == "" {
		logger.Warn("bundler not configured, smart account disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bundler, err := blockchain.DialBundler(ctx, &blockchain.BundlerConfig{
		URL:          a.cfg.Bundler.URL,
		EntryPoint:   a.cfg.Bundler.EntryPoint,
		PollInterval: time.Duration(a.cfg.Blockchain.PollIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to dial bundler: %w", err)
	}
	if err := bundler.CheckEntryPoint(ctx); err != nil {
		bundler.Close()
		return err
	}
	a.bundler = bundler

	logger.Info("bundler connected", zap.String("entry_point", bundler.EntryPoint().Hex()))
	return nil
}

// initWallets 初始化两个钱包后端与解析器
func (a *App) initWallets() {
	maxGasPrice := new(big.Int).Mul(big.NewInt(a.cfg.Blockchain.MaxGasPriceGwei), big.NewInt(1e9))
	fees := blockchain.NewFeeEstimator(blockchain.FeeEstimatorConfig{MaxGasPrice: maxGasPrice}, a.chainClient)

	a.injected = wallet.NewInjectedWallet(a.chainClient, fees, wallet.InjectedWalletConfig{
		ChainID: a.cfg.Blockchain.ChainID,
	})

	creds := repository.NewCredentialStore(a.credKV, a.cfg.Storage.DeviceID)

	var (
		auth    PasskeyAuthenticator = unconfiguredSmartAccount{}
		builder UserOperationBuilder = unconfiguredSmartAccount{}
		bundler wallet.Bundler       = unconfiguredSmartAccount{}
	)
	if a.passkey != nil && a.builder != nil {
		auth, builder = a.passkey, a.builder
	}
	if a.bundler != nil {
		bundler = a.bundler
	}

	a.smart = wallet.NewSmartAccount(creds, auth, builder, bundler, a.chainClient, wallet.SmartAccountConfig{
		ChainID: a.cfg.Blockchain.ChainID,
	})
	a.resolver = wallet.NewResolver(creds, a.injected, a.smart)

	// 有签名私钥时默认连接注入式钱包
	if a.chainClient.HasSigner() {
		if _, err := a.injected.Connect(context.Background(), model.ConnectorRef{ID: "local-key", Name: "Local Key"}); err != nil {
			logger.Warn("connect injected wallet failed", zap.Error(err))
		}
	}
}

// initServices 初始化账本、事件总线与服务
func (a *App) initServices() {
	a.ledger = repository.NewTransactionLedger(repository.NewTransactionStore(a.kv, a.cfg.Storage.DeviceID))
	a.bus = event.NewBus()
	metrics.Subscribe(a.bus)

	a.submission = service.NewSubmissionService(a.resolver, a.injected, a.smart, a.ledger, a.bus,
		&service.SubmissionServiceConfig{ChainID: a.cfg.Blockchain.ChainID},
	)

	a.confirm = service.NewConfirmationService(a.smart, a.injected, a.ledger, a.bus,
		&service.ConfirmationServiceConfig{
			Policy: service.RetryPolicy{
				MaxAttempts:    a.cfg.Confirmation.MaxAttempts,
				AttemptTimeout: a.cfg.Confirmation.AttemptTimeout(),
				Backoff:        a.cfg.Confirmation.Backoff(),
			},
			Concurrency: a.cfg.Confirmation.Concurrency,
		},
	)

	logger.Info("services initialized", zap.String("device_id", a.cfg.Storage.DeviceID))
}

// initKafka brokers 为空时跳过
func (a *App) initKafka() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		logger.Info("kafka not configured, events stay in-process")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:    a.cfg.Kafka.Brokers,
		ClientID:   a.cfg.Kafka.ClientID,
		MaxRetries: a.cfg.Kafka.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer
	a.eventPublisher = kafka.NewKafkaEventPublisher(producer)
	a.eventPublisher.Subscribe(a.bus)

	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initScheduler 注册待确认交易巡检
func (a *App) initScheduler() error {
	a.scheduler = scheduler.New(&scheduler.Config{
		MaxConcurrentJobs: 1,
		RedisClient:       a.redis,
	})

	job := scheduler.NewSweepJob(a.resolver, a.confirm, 0)
	return a.scheduler.RegisterJob(job, a.cfg.Confirmation.SweepCron)
}

// initServers 初始化 gRPC 健康检查与 metrics 端点
func (a *App) initServers() {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Resolver 钱包状态解析器
func (a *App) Resolver() *wallet.Resolver { return a.resolver }

// Submission 提交服务
func (a *App) Submission() *service.SubmissionService { return a.submission }

// Confirmation 确认服务
func (a *App) Confirmation() *service.ConfirmationService { return a.confirm }

// Ledger 交易账本
func (a *App) Ledger() repository.TransactionLedger { return a.ledger }

// Events 领域事件总线
func (a *App) Events() *event.Bus { return a.bus }

// Run 运行应用
func (a *App) Run() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	a.scheduler.Start()

	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("metrics server listening", zap.Int("port", a.cfg.Service.MetricsPort))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}

	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			logger.Warn("kafka producer close", zap.Error(err))
		}
	}

	if a.bundler != nil {
		a.bundler.Close()
	}
	if a.chainClient != nil {
		a.chainClient.Close()
	}

	if a.redis != nil {
		a.redis.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}

// ErrSmartAccountUnavailable 未配置 bundler 或 Passkey SDK
var ErrSmartAccountUnavailable = errors.New("smart account is not configured")

// unconfiguredSmartAccount 未注入外部 SDK 时的占位实现
type unconfiguredSmartAccount struct{}

func (unconfiguredSmartAccount) Register(context.Context, string) (*model.Credential, error) {
	return nil, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) Authenticate(context.Context, string) (*model.Credential, error) {
	return nil, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) Sign(context.Context, *model.Credential, []byte) ([]byte, error) {
	return nil, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) Build(context.Context, common.Address, []byte) (*blockchain.UserOperation, error) {
	return nil, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) Hash(context.Context, *blockchain.UserOperation) (common.Hash, error) {
	return common.Hash{}, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) ChainID(context.Context) (*big.Int, error) {
	return nil, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) SendUserOperation(context.Context, *blockchain.UserOperation) (common.Hash, error) {
	return common.Hash{}, ErrSmartAccountUnavailable
}

func (unconfiguredSmartAccount) WaitForUserOperationReceipt(context.Context, common.Hash) (*blockchain.UserOperationReceipt, error) {
	return nil, ErrSmartAccountUnavailable
}
