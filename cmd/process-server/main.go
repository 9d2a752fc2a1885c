package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/archive/midas"
	"github.com/opencdms/opencdms-process/internal/core/config"
	"github.com/opencdms/opencdms-process/internal/core/health"
	"github.com/opencdms/opencdms-process/internal/core/router"
	"github.com/opencdms/opencdms-process/internal/core/server"
	"github.com/opencdms/opencdms-process/internal/jobs"
	"github.com/opencdms/opencdms-process/internal/logger"
	"github.com/opencdms/opencdms-process/internal/metrics"
	"github.com/opencdms/opencdms-process/internal/process"
	_ "github.com/opencdms/opencdms-process/internal/process/observations"
	_ "github.com/opencdms/opencdms-process/internal/process/products"
	_ "github.com/opencdms/opencdms-process/internal/process/windrose"
	"github.com/opencdms/opencdms-process/internal/provider"
	"github.com/opencdms/opencdms-process/internal/runtime/rscript"
	"github.com/opencdms/opencdms-process/internal/stations"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	root := flag.String("archive", "", "archive root (overrides ARCHIVE_ROOT)")
	flag.Parse()

	// a missing .env is fine; real env vars win over it
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *root != "" {
		cfg.ArchiveRoot = strings.TrimSpace(*root)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   "opencdms-process",
		Component: "process-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}
	appLog.Info("starting process server",
		"addr", cfg.Addr,
		"version", Version,
		"family", cfg.ArchiveFamily,
		"archive", cfg.ArchiveRoot,
		"job_store", cfg.JobStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := archive.OS(cfg.ArchiveRoot)
	prov, err := provider.New(cfg.ArchiveFamily, loc, provider.WithLogger(appLog))
	if err != nil {
		appLog.Error("archive provider", "err", err)
		return 1
	}

	rt := rscript.New(rscript.Config{
		Path:            cfg.Runtime.Path,
		Packages:        cfg.Runtime.Packages,
		ProbeTimeout:    cfg.Runtime.ProbeTimeout,
		BreakerFailures: uint32(cfg.Runtime.BreakerFailures),
		BreakerCooldown: cfg.Runtime.BreakerCooldown,
	}, rscript.WithLogger(appLog))

	var index *stations.Index
	if cfg.ArchiveFamily == midas.Family {
		list, err := midas.Catalogue(ctx, loc)
		if err != nil {
			appLog.Warn("station catalogue unavailable", "err", err)
		} else if index, err = stations.New(list, cfg.H3Res); err != nil {
			appLog.Warn("station index", "err", err)
			index = nil
		} else {
			appLog.Info("station index built", "stations", index.Len(), "h3_res", cfg.H3Res)
		}
	}

	deps := process.Deps{Logger: appLog, Provider: prov, Runtime: rt}
	if index != nil {
		deps.Stations = index
	}
	reg, err := process.Build(deps)
	if err != nil {
		appLog.Error("process registry", "err", err)
		return 1
	}
	for _, md := range reg.List() {
		rt.Watch(md.Packages...)
	}
	mon, err := rt.Monitor(cfg.Runtime.ProbeInterval)
	if err != nil {
		appLog.Error("runtime monitor", "err", err)
		return 1
	}
	defer mon.Stop()

	store, closeStore, err := jobStore(ctx, cfg)
	if err != nil {
		appLog.Error("job store", "err", err)
		return 1
	}
	defer closeStore()

	jobOpts := []jobs.Option{jobs.WithLogger(appLog), jobs.WithTimeout(cfg.ProcessTimeout)}
	if cfg.Events.Enabled {
		pub, err := jobs.Dial(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("job events", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("job events close", "err", err)
			}
		}()
		jobOpts = append(jobOpts, jobs.WithNotifier(pub))
	}
	mgr := jobs.NewManager(store, reg, jobOpts...)
	defer mgr.Close()

	prom := metrics.Init(metrics.Config{Build: metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}})

	err = server.Run(ctx, appLog, server.Options{
		Addr: cfg.Addr,
		Host: &router.Host{
			Logger:    appLog,
			Processes: reg,
			Jobs:      mgr,
			Stations:  index,
			Timeout:   cfg.ProcessTimeout,
		},
		Ready: health.Checks{
			Archive: loc.Check,
			Runtime: rt.Status,
		},
		Metrics:      prom.Handler(),
		WriteTimeout: cfg.ProcessTimeout + 30*time.Second,
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func jobStore(ctx context.Context, cfg config.Config) (jobs.Store, func(), error) {
	if cfg.JobStore == "redis" {
		s, err := jobs.NewRedisStore(ctx, cfg.RedisAddr, cfg.JobTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := jobs.NewMemoryStore(cfg.JobCacheSize, cfg.JobTTL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}
