package main

import (
	"context"
	"fmt"
	"time"

	"wallet-ext/internal/handler"
	"wallet-ext/internal/model"
	"wallet-ext/internal/server"
	"wallet-ext/internal/service/mq"
	"wallet-ext/internal/service/observer"
	"wallet-ext/internal/service/queue"
	"wallet-ext/internal/service/session"
	"wallet-ext/internal/service/submitter"

	"wallet-ext/pkg/cache"
	"wallet-ext/pkg/config"
	"wallet-ext/pkg/database"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/monitor"
	"wallet-ext/pkg/validator"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "wallet-ext/docs/swagger"
)

// @title Wallet Extension Core API
// @version 1.0
// @description Browser extension wallet custody core

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 初始化 Validator
	validator.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 初始化监控指标
	monitor.Init()

	// 2. 连接数据库 (本地默认 sqlite, 可切 postgres)
	db := mustConnectDB()

	// 3. 迁移历史表
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. Redis 可选: 会话镜像 / Redis Streams 通知
	var rdb *redis.Client
	if config.Global.Redis.Enabled {
		var err error
		rdb, err = database.ConnectRedis(
			config.Global.Redis.Addr,
			config.Global.Redis.Password,
			config.Global.Redis.DB,
		)
		if err != nil {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
	}

	// 5. 通知总线
	producer := buildProducer(rdb)
	defer producer.Close()

	// 6. 会话服务 (+镜像)
	walletCfg := config.Global.Wallet
	sess := session.New(session.Options{
		WalletPath:    walletCfg.WalletPath,
		RpcURL:        walletCfg.RpcUrl,
		Mirror:        buildMirror(rdb),
		MirrorTTL:     time.Duration(walletCfg.MirrorTTLMinutes) * time.Minute,
		UnlockTimeout: time.Duration(walletCfg.UnlockTimeoutMins) * time.Minute,
	})

	// 进程重启后尝试恢复已解锁会话，失败不致命
	if ok, err := sess.Restore(context.Background()); err != nil {
		logger.Warn("会话恢复失败", zap.Error(err))
	} else if ok {
		logger.Info("已从会话镜像恢复解锁状态")
	}

	// 7. 提交器与动作队列
	sub := submitter.New(sess, db, producer, walletCfg.GasLimitNative, walletCfg.GasLimitToken)

	q := queue.New(db, producer)
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	q.Start(queueCtx)

	contexts := queue.NewContextRegistry()

	// 入账扫描: 解锁期间监视发给钱包地址的转账
	obs := observer.NewDepositObserver(sess, db, producer, 2)
	obs.Start(queueCtx)

	// 8. RPC 入口与路由
	rpc := handler.NewRPCHandler(sess, sub, q, contexts, walletCfg, db)
	r := server.NewHTTPRouter(rpc, walletCfg)

	// 9. 启动应用 (阻塞至收到退出信号)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	app.OnShutdown(func() {
		cancelQueue()
		sess.Lock() // 退出前清除内存中的密钥材料

		logger.Info("正在关闭数据库连接...")
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
	})
	app.Run()

	logger.Info("系统已退出")
}

func mustConnectDB() *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	switch config.Global.DB.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			config.Global.DB.Host,
			config.Global.DB.User,
			config.Global.DB.Password,
			config.Global.DB.Name,
			config.Global.DB.Port,
		)
		db, err = database.ConnectPostgres(dsn)
	default:
		db, err = database.ConnectSQLite(config.Global.DB.Path)
	}
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	return db
}

// buildProducer 按配置选择通知总线实现。
// 没有配置消息队列时使用 Nop, 所有通知只落日志。
func buildProducer(rdb *redis.Client) mq.Producer {
	switch config.Global.Redis.MQType {
	case "kafka":
		logger.Info("使用 Kafka 作为通知总线...")
		return mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	case "redis":
		if rdb == nil {
			logger.Fatal("mq_type=redis 但未启用 Redis")
		}
		logger.Info("使用 Redis Streams 作为通知总线...")
		return mq.NewRedisProducer(rdb)
	default:
		return mq.NopProducer{}
	}
}

// buildMirror 按配置选择会话镜像后端
func buildMirror(rdb *redis.Client) cache.Cache {
	switch config.Global.Wallet.MirrorBackend {
	case "redis":
		if rdb == nil {
			logger.Fatal("mirror_backend=redis 但未启用 Redis")
		}
		return cache.NewRedisCache(rdb)
	case "none":
		return nil
	default:
		return cache.NewMemoryCache(5*time.Minute, 10*time.Minute)
	}
}
