package main

import (
	"context"
	"log"
	"os"
	"time"

	v1 "c2core/api/v1"
	"c2core/internal/auth"
	"c2core/internal/blacklist"
	"c2core/internal/ca"
	"c2core/internal/cache"
	"c2core/internal/config"
	"c2core/internal/db"
	"c2core/internal/dispatch"
	"c2core/internal/events"
	"c2core/internal/taskqueue"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
		os.Exit(1)
	}
	log.Println("✓ Configuration loaded")

	logger := logrus.NewEntry(logrus.StandardLogger())

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
			os.Exit(1)
		}
		log.Println("✓ Database migrated")
	}

	// 3. Initialize Redis
	if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
		os.Exit(1)
	}
	defer cache.Close()

	// 4. JWT
	auth.InitJWT(cfg.JWT.Secret)

	// 5. CA engine, with its revocation set mirrored to MySQL
	caEngine, err := ca.New(ca.Config{Dir: cfg.CA.Dir}, ca.NewGormRevocationStore(db.GetDB()), logger)
	if err != nil {
		log.Fatalf("Failed to initialize CA engine: %v", err)
		os.Exit(1)
	}
	log.Println("✓ CA engine ready")

	purger := ca.NewPurger(caEngine, ca.PurgerConfig{
		Enabled:     cfg.CA.PurgeEnabled,
		IntervalSec: cfg.CA.PurgeIntervalSec,
	})
	purger.Start()
	defer purger.Stop()

	// 6. Revocation/blacklist engine, cache rebuilt from the durable
	// mirror so a Redis wipe cannot resurrect a blacklisted agent
	bl := blacklist.NewService(
		blacklist.NewRedisCache(cache.Client),
		blacklist.NewGormStore(db.GetDB()),
		caEngine,
		blacklist.Config{
			DefaultTTL:            time.Duration(cfg.Blacklist.DefaultTTLSec) * time.Second,
			FailOpen:              cfg.Blacklist.FailOpen,
			FingerprintRevocation: cfg.Blacklist.FingerprintRevocation,
		},
		logger,
	)
	if restored, err := bl.SyncFromStore(context.Background()); err != nil {
		log.Printf("Blacklist sync from store failed: %v", err)
	} else if restored > 0 {
		log.Printf("✓ Restored %d blacklist entries", restored)
	}

	// 7. Work queue engine
	queueStore := taskqueue.NewRedisStore(cache.Client)
	queue := taskqueue.NewService(queueStore, taskqueue.Config{
		VisibilityWindow: time.Duration(cfg.Queue.VisibilitySec) * time.Second,
	}, logger)

	sweeper := taskqueue.NewSweeper(queueStore, taskqueue.SweeperConfig{
		Enabled:     cfg.Queue.RequeueEnabled,
		IntervalSec: cfg.Queue.RequeueIntervalSec,
	}, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// 8. Dispatch façade
	facade := dispatch.NewFacade(bl, queue, dispatch.NewGormAgentStore(db.GetDB()), dispatch.Config{
		FingerprintRevocation: cfg.Blacklist.FingerprintRevocation,
	}, logger)

	// 9. Dashboard event stream
	if err := events.InitServer(); err != nil {
		log.Fatalf("Failed to initialize event server: %v", err)
		os.Exit(1)
	}

	// 10. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.Any("/socket.io/*any", gin.WrapH(events.WrapWithAuth(events.Server)))

	v1.SetupRouter(r, v1.Deps{
		DB:     db.GetDB(),
		Config: cfg,
		CA:     caEngine,
		Bl:     bl,
		Queue:  queue,
		Facade: facade,
	})

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
