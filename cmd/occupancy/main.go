// Command occupancy runs the parking occupancy counter: it reads detection
// frames from the detector appliance (or a simulator), counts entries and
// exits, stores every event and serves the HTTP API and live gRPC feed.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/feed"
	"github.com/banshee-data/occupancy.report/internal/ingest"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/simulator"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC CountFeed listen address (empty disables)")
	dbPath      = flag.String("db-path", "occupancy.db", "SQLite database path")
	configPath  = flag.String("config", "", "Site config JSON (empty uses built-in defaults)")
	source      = flag.String("source", "serial", "Frame source: serial, mock or simulator")
	port        = flag.String("port", "/dev/ttyUSB0", "Detector serial port (source=serial)")
	portOptions = flag.String("port-options", "115200", "Serial options as baud[,8N1] (source=serial)")
	fixtures    = flag.String("fixtures", "fixtures/frames.jsonl", "Recorded frames replayed by source=mock")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON     = flag.Bool("log-json", false, "Emit JSON log lines")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && isClientCommand(os.Args[1]) {
		if err := runClient(os.Args[1], os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.Info())
		return
	}
	monitoring.Configure(*logLevel, *logJSON)
	log := monitoring.Logger()

	site := config.EmptySiteConfig()
	if *configPath != "" {
		var err error
		if site, err = config.LoadSiteConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	capacity, err := database.MaxCapacity()
	if err != nil {
		log.Warnf("failed to read max_capacity, using site default: %v", err)
		capacity = site.GetDefaultMaxCapacity()
	}

	trackerCfg, err := counting.ConfigFromSite(site, capacity)
	if err != nil {
		log.Fatalf("invalid counting config: %v", err)
	}
	tracker, err := counting.New(trackerCfg)
	if err != nil {
		log.Fatalf("failed to create tracker: %v", err)
	}

	hub := feed.NewHub()
	hub.Start()
	defer hub.Stop()

	runner := pipeline.New(tracker, pipeline.Options{
		Store:     database,
		Publisher: hub,
		Capacity:  capacity,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	frames := make(chan ingest.Frame, 16)
	var wg sync.WaitGroup

	switch *source {
	case "simulator":
		sim := simulator.New(simulator.DefaultConfig(site.GetCameraWidth(), site.GetCameraHeight(), trackerCfg))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sim.Run(ctx, timeutil.RealClock{}, site.GetFrameInterval(), frames); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("simulator stopped: %v", err)
			}
		}()
	case "serial", "mock":
		sm, err := openSerial(site)
		if err != nil {
			log.Fatalf("failed to open detector feed: %v", err)
		}
		defer sm.Close()
		if err := sm.Initialize(); err != nil {
			log.Fatalf("failed to initialise detector: %v", err)
		}
		sm.AttachAdminRoutes(mux)
		startSerialFeed(ctx, &wg, sm, ingest.FilterFromSite(site), frames)
	default:
		log.Fatalf("unknown source %q", *source)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("pipeline stopped: %v", err)
		}
	}()

	if *grpcListen != "" {
		cfg := feed.DefaultConfig()
		cfg.ListenAddr = *grpcListen
		publisher := feed.NewPublisher(cfg, hub)
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start gRPC feed: %v", err)
		}
		defer publisher.Stop()
	}

	server := api.NewServer(runner, database, hub, api.Options{
		Width:    site.GetCameraWidth(),
		Height:   site.GetCameraHeight(),
		Location: site.GetLocation(),
	})
	apiMux := server.ServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/debug/charts/", apiMux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("failed to attach db admin routes: %v", err)
	}

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	log.WithField("version", version.Version).Infof("listening on %s (source=%s)", *listen, *source)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP server error: %v", err)
		stop()
	}

	wg.Wait()
	log.Info("graceful shutdown complete")
}

func openSerial(site *config.SiteConfig) (serialmux.SerialMuxInterface, error) {
	if *source == "mock" {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixtures: %w", err)
		}
		lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
		return serialmux.NewMockSerialMux(lines, site.GetFrameInterval()), nil
	}
	opts, err := serialmux.ParsePortOptions(*portOptions)
	if err != nil {
		return nil, err
	}
	sm, err := serialmux.NewRealSerialMux(*port, opts)
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// startSerialFeed monitors the port and pumps decoded frames into frames.
func startSerialFeed(ctx context.Context, wg *sync.WaitGroup, sm serialmux.SerialMuxInterface, filter ingest.Filter, frames chan<- ingest.Frame) {
	log := monitoring.Logger()
	// subscribe before monitoring starts so the first lines have a reader
	id, lines := sm.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sm.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("failed to monitor serial port: %v", err)
		}
		log.Info("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sm.Unsubscribe(id)
		if err := ingest.Pump(ctx, lines, filter, frames); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("frame pump stopped: %v", err)
		}
	}()
}
