package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/config"
	"raito/internal/gateway"
	"raito/internal/httpapi"
	"raito/internal/llm"
	"raito/internal/migrate"
	"raito/internal/pipeline"
	"raito/internal/progress"
	"raito/internal/scheduler"
	"raito/internal/scraper"
	"raito/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse redis url failed: %v", err)
		}
		rdb = redis.NewClient(opt)
	}

	cacheBackend := buildCache(cfg, rdb)
	busBackend := buildBus(cfg, rdb, logger)
	progressBackend := buildProgress(cfg, rdb)

	robotsCfg := scraper.RobotsConfig{
		Respect:   cfg.Robots.Respect,
		UserAgent: cfg.Robots.UserAgent,
		Timeout:   time.Duration(cfg.Robots.TimeoutMs) * time.Millisecond,
	}
	scraperTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	rodScraper := scraper.NewRodScraper(scraperTimeout, robotsCfg)
	httpScraper := scraper.NewHTTPScraper(scraperTimeout)

	deps := &pipeline.Deps{
		Store:    st,
		Cache:    cacheBackend,
		Bus:      busBackend,
		Progress: progressBackend,
		Scrapers: func(useSimple bool) scraper.Scraper {
			if useSimple {
				return httpScraper
			}
			return rodScraper
		},
		LLM: func(modelOverride string) (llm.Client, llm.Provider, error) {
			client, provider, _, err := llm.NewClientFromConfig(cfg, "", modelOverride)
			return client, provider, err
		},
		Logger:                logger,
		DefaultScraperTimeout: scraperTimeout,
	}
	pipeline.Register(deps)

	gw := gateway.New(st, cacheBackend, busBackend, logger)

	tick := time.Duration(cfg.Scheduler.TickIntervalMinutes) * time.Minute
	sched := scheduler.New(st, busBackend, logger, tick)
	rootCtx := context.Background()
	if rb, ok := busBackend.(*bus.RedisBus); ok {
		go func() {
			if err := rb.Start(rootCtx); err != nil {
				log.Fatalf("event bus failed: %v", err)
			}
		}()
	}
	go sched.Start(rootCtx)

	srv := httpapi.NewServer(gw, st, logger)
	port := cfg.Server.Port
	if port <= 0 {
		port = 8080
	}
	addr := cfg.Server.Host + ":" + strconv.Itoa(port)
	if err := srv.Listen(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildCache(cfg *config.Config, rdb *redis.Client) cache.Cache {
	if cfg.Cache.Backend == "redis" && rdb != nil {
		extractionTTL := time.Duration(cfg.Cache.ExtractionTTLHours) * time.Hour
		contentTTL := time.Duration(cfg.Cache.ContentTTLHours) * time.Hour
		return cache.NewRedisCache(rdb, extractionTTL, contentTTL)
	}
	return cache.NewInMemoryCache(cfg.Cache.InMemoryCapacity)
}

func buildBus(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) bus.Bus {
	if cfg.Bus.Backend == "redis" && rdb != nil {
		return bus.NewRedisBus(rdb, cfg.Bus.ShardCount, logger)
	}
	return bus.NewMemoryBus()
}

func buildProgress(cfg *config.Config, rdb *redis.Client) progress.Stream {
	if cfg.Progress.Backend == "redis" && rdb != nil {
		ttl := time.Duration(cfg.Progress.TTLHours) * time.Hour
		return progress.NewRedisStream(rdb, ttl)
	}
	return progress.NewMemoryStream()
}
