package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/transitboard/internal/api"
	"github.com/transitboard/internal/common/config"
	"github.com/transitboard/internal/common/discord"
	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/internal/common/metrics"
	"github.com/transitboard/internal/display"
	gtfs_realtime "github.com/transitboard/internal/gtfs-realtime"
	"github.com/transitboard/internal/gtfs-realtime/processor"
	"github.com/transitboard/internal/gtfs-realtime/reftime"
	"github.com/transitboard/internal/gtfs-realtime/transport"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle, print the board as JSON and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration: "+err.Error())
		os.Exit(1)
	}

	logCfg := logger.DefaultLoggerConfig()
	logCfg.Level = logger.ParseLogLevel(cfg.Logging.Level)
	logCfg.File = cfg.Logging.FilePath != ""
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.DiscordURL = cfg.Logging.DiscordURL
	log := logger.New(logCfg)

	log.Info("Transit board starting",
		"version", "1.0.0",
		"log_level", cfg.Logging.Level,
		"trip_updates_url", cfg.Feed.TripUpdatesURL,
		"relays", len(cfg.Transport.RelayPrefixes),
	)

	collector := metrics.NewCollector(cfg.Schedule.PollInterval)

	tr, err := transport.New(transport.Config{
		DirectEnabled:   cfg.Transport.DirectEnabled,
		RelayPrefixes:   cfg.Transport.RelayPrefixes,
		Timeout:         cfg.Transport.Timeout,
		MinPayloadBytes: cfg.Transport.MinPayloadBytes,
		UserAgent:       cfg.Transport.UserAgent,
		APIKey:          cfg.Feed.APIKey,
		APIKeyHeader:    cfg.Feed.APIKeyHeader,
	}, log.With("component", "transport"), collector)
	if err != nil {
		log.Fatal("Invalid transport configuration", "error", err)
	}

	proc, err := processor.NewProcessor(processorConfig(cfg.Board), log.With("component", "processor"))
	if err != nil {
		log.Fatal("Invalid board configuration", "error", err)
	}

	board := display.NewBoard(cfg.Board.Containers.West, cfg.Board.Containers.East)
	renderer := display.NewMulti(collector, display.Sink{Name: "board", Renderer: board})
	if cfg.Display.LogBoard {
		renderer.Add("log", display.NewLogRenderer(log))
	}

	if cfg.Display.NATSURL != "" {
		nc, err := display.ConnectNATS(cfg.Display.NATSURL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", "error", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn("Failed to drain NATS connection", "error", err)
			}
		}()
		renderer.Add("nats", display.NewNATSRenderer(nc, cfg.Display.NATSSubject))
		log.Info("Publishing board to NATS", "subject", cfg.Display.NATSSubject)
	}

	if cfg.Display.RedisAddr != "" {
		rdb := display.NewRedisClient(cfg.Display.RedisAddr, cfg.Display.RedisPassword, cfg.Display.RedisDB)
		defer rdb.Close()
		renderer.Add("redis", display.NewRedisRenderer(rdb, cfg.Display.RedisPrefix, cfg.Display.RedisTTL))
		log.Info("Publishing board to Redis", "addr", cfg.Display.RedisAddr, "prefix", cfg.Display.RedisPrefix)
	}

	notifier := discord.NewClient(cfg.Logging.DiscordURL)

	manager := gtfs_realtime.NewManager(gtfs_realtime.Config{
		TripUpdatesURL:    cfg.Feed.TripUpdatesURL,
		AlertsURL:         cfg.Feed.AlertsURL,
		WestContainerID:   cfg.Board.Containers.West,
		EastContainerID:   cfg.Board.Containers.East,
		PollInterval:      cfg.Schedule.PollInterval,
		FastRetryInterval: cfg.Schedule.FastRetryInterval,
		FailureThreshold:  cfg.Schedule.FailureThreshold,
		RetryJitter:       0.2,
	}, tr, proc, renderer, notifier, collector, log.With("component", "manager"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		result, err := manager.RunOnce(ctx)
		if err != nil {
			log.Fatal("Failed to run cycle", "error", err)
		}
		out := map[string]interface{}{
			"outcome": result.Outcome.String(),
			"board":   board.Snapshot(),
		}
		if result.Err != nil {
			out["error"] = result.Err.Error()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatal("Failed to write board", "error", err)
		}
		if result.Outcome != gtfs_realtime.OutcomeOK {
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	if cfg.API.Enabled {
		server := api.NewServer(board, manager, collector.Handler(), log.With("component", "api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(ctx, cfg.API.Addr); err != nil {
				log.Error("HTTP API error", "error", err)
			}
		}()
	}

	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start GTFS-realtime manager", "error", err)
	}

	<-sigChan
	log.Info("Shutdown signal received")

	manager.Stop()
	cancel()
	wg.Wait()

	log.Info("Transit board stopped")
}

func processorConfig(board config.BoardConfig) processor.Config {
	routes := make([]processor.RouteMatcher, 0, len(board.Routes))
	for _, r := range board.Routes {
		routes = append(routes, processor.RouteMatcher{Pattern: r.ID, Color: models.RouteColor(r.Color)})
	}

	destinations := map[models.Direction]map[models.RouteColor]string{
		models.DirectionWest: {},
		models.DirectionEast: {},
	}
	for color, name := range board.Destinations.West {
		destinations[models.DirectionWest][models.RouteColor(color)] = name
	}
	for color, name := range board.Destinations.East {
		destinations[models.DirectionEast][models.RouteColor(color)] = name
	}

	return processor.Config{
		WestStopID:   board.WestStopID,
		EastStopID:   board.EastStopID,
		Routes:       routes,
		Destinations: destinations,
		Window: reftime.Window{
			DepartureGrace: board.DepartureGrace,
			MaxLookahead:   board.MaxLookahead,
		},
		DisplayCap:        board.DisplayCap,
		BoardingThreshold: board.BoardingThreshold,
		PreferredLanguage: board.PreferredLanguage,
	}
}
