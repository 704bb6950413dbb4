package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"market-observer/src/catalogue"
	"market-observer/src/config"
	"market-observer/src/delivery"
	"market-observer/src/dispatcher"
	"market-observer/src/drivers"
	"market-observer/src/helpers"
	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
	"market-observer/src/persistence"
	"market-observer/src/quotecache"
	"market-observer/src/server"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults baked in if omitted)")
	snapshotPath := flag.String("config-snapshot", "config.snapshot.yaml", "path the admin API writes a YAML snapshot to whenever a connection is added at runtime")
	flag.Parse()

	log := logger.NewLogger("market-observer")

	cfg, err := loadConfig(*configPath, log)
	if err != nil {
		log.Critical("failed to load configuration: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisHost + ":" + strconv.Itoa(cfg.RedisPort),
	})
	if err := helpers.RetryWithBackoff("redis ping", 3, 500*time.Millisecond, func() error {
		return redisClient.Ping(context.Background()).Err()
	}); err != nil {
		log.Error("redis not reachable at startup, persistence will keep failing: %v", err)
	}
	store := persistence.NewRedisQuoteStore(redisClient)

	cache := quotecache.NewQuoteCache()
	cat := catalogue.NewInMemoryCatalogue()

	var dsp *dispatcher.SubscriptionDispatcher
	driverFactory := func(connCfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
		return drivers.NewSimulatorDriver(events)
	}

	pool := upstream.NewConnectionPool(driverFactory, nil, log, time.Duration(cfg.HealthCheckInterval)*time.Second)
	dsp = dispatcher.NewSubscriptionDispatcher(pool, cache, log, cfg.Strategy(), cfg.MaxRetryCount)
	dsp.SetStore(store)
	pool.SetEvents(dsp)

	for _, connCfg := range cfg.Connections {
		if _, err := pool.AddConnection(connCfg); err != nil {
			log.Error("failed to add connection %s: %v", connCfg.ConnectionID, err)
		}
	}

	engine := delivery.NewDiffDeliveryEngine(cache, cat, log)
	apiServer := server.NewFastAPIServer(cfg, *snapshotPath, log, pool, dsp, engine, cat)

	if err := pool.StartAll(); err != nil {
		log.Error("no upstream connection could be started: %v", err)
	}
	pool.StartHealthMonitor()

	maintenanceStop := make(chan struct{})
	go dsp.StartMaintenance(time.Duration(cfg.MaintenanceInterval)*time.Second, maintenanceStop)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("server exited: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(maintenanceStop)
	pool.StopHealthMonitor()
	pool.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiServer.Stop(ctx)
	store.Close()
}

// -----------------------------------------------------------------------------

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path == "" {
		log.Info("no -config flag supplied, using built-in defaults")
		return config.NewDefaultConfig(), nil
	}
	return config.NewConfig(path)
}

