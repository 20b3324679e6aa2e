package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"sentryd/internal/audit"
	"sentryd/internal/config"
	"sentryd/internal/health"
	"sentryd/internal/ipc"
	"sentryd/internal/journal"
	"sentryd/internal/logging"
	"sentryd/internal/metrics"
	"sentryd/internal/monitor"
	"sentryd/internal/overlay"
	"sentryd/internal/platform"
	"sentryd/internal/probe"
)

// daemon owns the long-lived components and their shutdown order.
type daemon struct {
	configPath  string
	metricsAddr string

	cfg    atomic.Pointer[config.Config]
	loader *config.Loader

	log     *logging.Logger
	plat    platform.Platform
	mon     *monitor.Manager
	jnl     *journal.Journal
	met     *metrics.DaemonMetrics
	checker *health.Checker

	server  *ipc.Server
	handler *ipc.DaemonHandler
	httpSrv *http.Server

	startedAt time.Time
	stopCh    chan struct{}
}

func newDaemon(configPath string, simulate bool, metricsAddr string) (*daemon, error) {
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if simulate {
		cfg.Platform.Backend = "memory"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	logging.SetDefault(log)
	if created {
		log.Info("wrote default configuration", "path", configPath)
	}

	d := &daemon{
		configPath:  configPath,
		metricsAddr: metricsAddr,
		log:         log,
		startedAt:   time.Now(),
		stopCh:      make(chan struct{}),
	}
	d.cfg.Store(cfg)
	return d, nil
}

func (d *daemon) start() error {
	cfg := d.cfg.Load()

	plat, err := platform.Select(cfg.Platform.Backend, platform.Options{
		APILevel:     cfg.Platform.APILevel,
		SettingsPath: cfg.Platform.SettingsPath,
	})
	if err != nil {
		return fmt.Errorf("select platform backend: %w", err)
	}
	d.plat = plat
	if ok, detail := plat.Available(); ok {
		d.log.Info("platform backend ready", "detail", detail)
	} else {
		d.log.Warn("platform backend unavailable", "detail", detail)
	}

	if cfg.Journal.Enabled {
		jnl, err := journal.Open(journal.Options{
			Path:          cfg.Journal.Path,
			Sealed:        cfg.Journal.Sealed,
			KeyPath:       cfg.Journal.KeyPath,
			BusyTimeoutMs: cfg.Journal.BusyTimeoutMs,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		d.jnl = jnl
	}

	d.met = metrics.NewDaemonMetrics(nil)

	d.mon = monitor.New(monitor.Config{
		Platform: plat,
		Logger:   d.log.WithComponent("monitor"),
		Buffer:   cfg.Monitor.Buffer,
		Tap:      d.recordEvent,
		OnDrop:   d.met.RecordDrop,
	})

	d.checker = health.NewChecker()
	d.checker.Register(health.Component{
		Name:     "platform",
		Critical: true,
		Check: func(context.Context) error {
			if ok, detail := d.plat.Available(); !ok {
				return fmt.Errorf("platform unavailable: %s", detail)
			}
			return nil
		},
	})
	if d.jnl != nil {
		d.checker.Register(health.Component{
			Name: "journal",
			Check: func(context.Context) error {
				_, err := d.jnl.Count()
				return err
			},
		})
	}
	d.checker.Register(health.Component{
		Name: "monitor",
		Check: func(context.Context) error {
			// Round-trips the manager's op loop; a wedged loop times out.
			d.mon.Active(monitor.CallState)
			return nil
		},
	})

	if cfg.IPC.Enabled {
		if err := d.startIPC(cfg); err != nil {
			return err
		}
	}
	if err := d.startObservers(cfg); err != nil {
		return err
	}

	if err := d.writePidFile(cfg.Daemon.PidFile); err != nil {
		return err
	}

	d.loader = config.NewLoader(d.configPath)
	if _, err := d.loader.Load(); err == nil {
		d.loader.OnChange(d.applyConfig)
		if err := d.loader.Watch(); err != nil {
			d.log.Warn("config watch unavailable", "error", err)
		}
	}

	if d.metricsAddr != "" {
		d.startHTTP(d.metricsAddr)
	}

	go d.housekeeping(cfg)

	d.log.Info("sentryd started", "version", Version, "backend", cfg.Platform.Backend)
	return nil
}

func (d *daemon) startIPC(cfg *config.Config) error {
	mode, err := cfg.IPC.SocketMode()
	if err != nil {
		return fmt.Errorf("parse socket permissions: %w", err)
	}

	d.handler = ipc.NewDaemonHandler(ipc.HandlerConfig{
		Version:   Version,
		StartedAt: d.startedAt,
		Platform:  d.plat,
		Audit:     audit.New(d.plat.Accessibility()),
		Probe:     probe.New(d.plat),
		Overlay:   overlay.New(d.plat),
		Monitor:   d.mon,
		Journal:   d.jnl,
		Health:    d.checker,
		Metrics:   d.met,
		Config:    d.cfg.Load,
		Logger:    d.log.WithComponent("ipc"),
	})

	d.server = ipc.NewServer(ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		SocketMode:     mode,
		MaxConnections: cfg.IPC.MaxConnections,
		WriteTimeout:   time.Duration(cfg.IPC.TimeoutSec) * time.Second,
		Logger:         d.log.WithComponent("ipc"),
	}, d.handler)
	d.handler.Bind(d.server)

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	return nil
}

// startObservers brings up the configured auto-start kinds. With IPC
// enabled they are pinned through the handler so client watch churn
// cannot stop them; without it the daemon drains the sinks itself and
// the journal tap is the only consumer.
func (d *daemon) startObservers(cfg *config.Config) error {
	for _, name := range cfg.Monitor.AutoStart {
		kind, err := monitor.ParseKind(name)
		if err != nil {
			return fmt.Errorf("auto_start: %w", err)
		}

		if d.handler != nil {
			err = d.handler.Pin(kind)
		} else {
			var sink <-chan monitor.Event
			sink, err = d.mon.Subscribe(kind)
			if err == nil {
				go func() {
					for range sink {
					}
				}()
			}
		}
		if err != nil {
			return fmt.Errorf("start observer %s: %w", kind, err)
		}
	}
	return nil
}

// recordEvent is the monitor tap: every emitted event is counted and,
// when the journal is open, persisted.
func (d *daemon) recordEvent(ev monitor.Event) {
	kind := ev.EventKind()
	d.met.RecordEvent(kind)

	if d.jnl == nil {
		return
	}
	if err := d.jnl.Append(kind.String(), time.Now(), ev); err != nil {
		d.met.JournalErrorsTotal.Inc()
		d.log.Warn("journal append failed", "kind", kind.String(), "error", err)
		return
	}
	d.met.JournalAppendsTotal.Inc()
}

func (d *daemon) startHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.met.Registry().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		results := d.checker.Check(r.Context())
		status := health.Overall(results)
		if status == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, status)
	})

	d.httpSrv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Warn("metrics endpoint failed", "error", err)
		}
	}()
	d.log.Info("metrics endpoint listening", "addr", addr)
}

// housekeeping runs the periodic health check, gauge refresh and
// journal retention pruning.
func (d *daemon) housekeeping(cfg *config.Config) {
	interval := time.Duration(cfg.Daemon.HealthIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.met.ActiveObservers.Set(int64(len(d.mon.ActiveKinds())))
			d.met.AttachedDisplays.Set(int64(d.plat.Displays().Count()))
			if d.server != nil {
				d.met.ConnectedClients.Set(int64(d.server.ClientCount()))
			}

			results := d.checker.Check(context.Background())
			if status := health.Overall(results); status != health.StatusHealthy {
				d.log.Warn("health check", "status", string(status))
			}

			d.pruneJournal()
		case <-d.stopCh:
			return
		}
	}
}

func (d *daemon) pruneJournal() {
	cfg := d.cfg.Load()
	if d.jnl == nil || cfg.Journal.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.Journal.RetentionDays)
	pruned, err := d.jnl.Prune(cutoff)
	if err != nil {
		d.log.Warn("journal prune failed", "error", err)
		return
	}
	if pruned > 0 {
		d.log.Info("journal pruned", "records", pruned)
	}
}

// reload re-reads the configuration on SIGHUP. Only the hot-applicable
// parts take effect: audit lists, journal retention. Socket, backend
// and journal location changes need a restart.
func (d *daemon) reload() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		d.log.Error("config reload failed", "error", err)
		return
	}
	d.applyConfig(cfg)
}

func (d *daemon) applyConfig(cfg *config.Config) {
	d.cfg.Store(cfg)
	d.log.Info("configuration reloaded", "path", d.configPath)
}

func (d *daemon) writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func (d *daemon) stop() {
	d.log.Info("shutting down")
	close(d.stopCh)

	if d.loader != nil {
		d.loader.Close()
	}
	if d.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		d.httpSrv.Shutdown(ctx)
		cancel()
	}
	if d.server != nil {
		d.server.Stop()
	}
	if d.mon != nil {
		d.mon.Close()
	}
	if d.jnl != nil {
		d.jnl.Close()
	}

	if path := d.cfg.Load().Daemon.PidFile; path != "" {
		os.Remove(path)
	}
	d.log.Info("sentryd stopped")
	d.log.Close()
}

// buildLogger maps the file configuration onto the logging package.
func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()

	if cfg.Level != "" {
		level, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if cfg.Format == "json" {
		lc.Format = logging.FormatJSON
	}
	if cfg.Output != "" {
		lc.Output = cfg.Output
	}
	if cfg.FilePath != "" {
		lc.FilePath = cfg.FilePath
	}
	if cfg.MaxSizeMB > 0 {
		lc.MaxSize = int64(cfg.MaxSizeMB)
	}
	if cfg.MaxBackups > 0 {
		lc.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		lc.MaxAge = cfg.MaxAgeDays
	}
	lc.Compress = cfg.Compress

	return logging.New(lc)
}
