package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/appruntime/internal/api/http"
	"github.com/GriffinCanCode/appruntime/internal/api/middleware"
	"github.com/GriffinCanCode/appruntime/internal/api/ws"
	"github.com/GriffinCanCode/appruntime/internal/domain/installer"
	"github.com/GriffinCanCode/appruntime/internal/domain/launcher"
	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/domain/prefs"
	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/domain/resolver"
	"github.com/GriffinCanCode/appruntime/internal/domain/scheduler"
	"github.com/GriffinCanCode/appruntime/internal/domain/script"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/config"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/display"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/notify"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/storage"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
)

// ShutdownTimeout bounds graceful HTTP shutdown
const ShutdownTimeout = 5 * time.Second

// notificationHistory is how many notifications the hub retains for new clients
const notificationHistory = 100

// Server wires the runtime together and serves the admin API
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	prom      *prometheus.Registry
	metrics   *monitoring.Metrics
	registry  *registry.Manager
	installer *installer.Installer
	hub       *notify.Hub
	display   *display.Headless
	loop      *scheduler.Loop
	tracer    *tracing.Tracer
	router    *gin.Engine
	http      *http.Server
}

// NewServer builds every component from cfg. Storage is prepared and the
// registry scanned; nothing runs until Run.
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing runtime",
		zap.String("root", cfg.Storage.Root),
		zap.String("addr", net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)),
	)

	// Metrics first, every component records into them
	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(prom)

	layout := paths.New(cfg.Storage.Root)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}
	if err := os.MkdirAll(layout.Builtin(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare built-in location: %w", err)
	}

	seeder := registry.NewSeeder(layout, logger.Component("seeder"))
	if cfg.Storage.SeedDir != "" {
		if _, err := seeder.SeedFrom(cfg.Storage.SeedDir); err != nil {
			logger.Warn("Failed to seed built-in apps", zap.Error(err))
		}
	}
	if _, err := seeder.SeedLauncher(launcher.Class, launcher.ChooserClass); err != nil {
		logger.Warn("Failed to seed default launcher", zap.Error(err))
	}

	reg := registry.NewManager(layout, logger.Component("registry")).WithMetrics(metrics)
	if err := reg.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to scan packages: %w", err)
	}

	hub := notify.NewHub(notificationHistory, logger.Component("notify"))

	fetcher := fetch.NewClient(fetch.DefaultOptions(), logger.Component("fetch"))
	inst := installer.New(reg, installer.Settings{
		ReservedPrefixes: cfg.Storage.ReservedPrefixes,
		MinFreeBytes:     cfg.Storage.MinFreeBytes,
		MaxBundleBytes:   cfg.Storage.MaxBundleBytes,
	}, logger.Component("installer")).
		WithNotifier(hub).
		WithFetcher(fetcher).
		WithProbe(storage.Disk{}).
		WithMetrics(metrics)

	// Finish swaps interrupted by a crash before anything reads the apps directory again
	if err := inst.Recover(ctx); err != nil {
		logger.Warn("Failed to recover interrupted installs", zap.Error(err))
	}

	guardLog := logger.Component("guard")
	guard := resilience.NewGuard(resilience.Settings{
		Limit:    cfg.Runtime.CrashLimit,
		Window:   cfg.Runtime.CrashWindow,
		Cooldown: cfg.Runtime.CrashCooldown,
		OnStateChange: func(pkg string, from, to resilience.State) {
			guardLog.Info("crash guard state changed",
				logging.Package(pkg),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	tasks, err := lifecycle.NewTasks(cfg.Runtime.TaskWorkers, logger.Component("tasks"), metrics)
	if err != nil {
		return nil, err
	}

	scriptCfg := script.DefaultConfig()
	scriptCfg.Timeout = cfg.Runtime.ScriptTimeout
	scripts := script.NewFactory(scriptCfg, logger.Component("script"))
	reg.OnChange(scripts.Forget)

	catalog := lifecycle.NewCatalog().WithScripts(scripts.New)
	catalog.Register(launcher.Class, launcher.New(reg, logger.Component("launcher")))
	catalog.Register(launcher.ChooserClass, launcher.NewChooser(logger.Component("chooser")))

	toolkit := display.NewHeadless(logger.Component("display"))
	res := resolver.New(reg, logger.Component("resolver"))
	ctl := lifecycle.NewController(reg, res, catalog, tasks, lifecycle.Settings{
		HomePackage:  cfg.Runtime.HomePackage,
		ChooserEntry: registry.ChooserEntry,
		DebugLeaks:   cfg.Runtime.DebugLeaks,
		Drain: lifecycle.Budget{
			Count: cfg.Runtime.DrainBudget,
			Time:  cfg.Runtime.DrainTime,
		},
	}, logger.Component("lifecycle")).
		WithToolkit(toolkit).
		WithPrefs(prefs.NewManager(layout.Data(), logger.Component("prefs"))).
		WithGuard(guard).
		WithNotifier(hub).
		WithMetrics(metrics)
	res.WithLiveIndex(ctl)

	loop := scheduler.New(ctl, scheduler.Settings{
		FrameInterval: cfg.Runtime.FrameInterval,
		MemoryFloor:   cfg.Runtime.MemoryFloor,
		PressureEvery: cfg.Runtime.PressureEvery,
	}, logger.Component("loop"))

	// Uninstall and replace go through the loop so the controller stays single-threaded
	inst.WithTerminator(loop)

	s := &Server{
		config:    cfg,
		logger:    logger,
		prom:      prom,
		metrics:   metrics,
		registry:  reg,
		installer: inst,
		hub:       hub,
		display:   toolkit,
		loop:      loop,
		tracer:    tracing.New(logger.Component("trace"), tracing.DefaultBuffer),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Runtime initialized",
		zap.Int("packages", reg.Stats().TotalPackages),
		zap.Int("classes", catalog.Classes()))
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", rl.RequestsPerSecond),
			zap.Int("burst", rl.Burst),
		)
		router.Use(middleware.RateLimit(rl))
	}

	// Probes
	health := healthcheck.NewMetricsHandler(s.prom, "appruntime")
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("loop", s.loopRunning)
	health.AddReadinessCheck("registry", s.registryScanned)
	router.GET("/live", gin.WrapF(health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(health.ReadyEndpoint))
	router.Any("/log/level", gin.WrapH(s.logger.Level()))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{Registry: s.prom})))

	handlers := apihttp.NewHandlers(s.loop, s.registry, s.installer, s.hub, s.metrics, s.logger.Component("api")).
		WithCatalog(s.config.Storage.CatalogURL).
		WithTracer(s.tracer)
	handlers.Register(router)

	events := ws.NewHandler(s.hub, s.metrics, s.logger.Component("ws"))
	router.GET("/events", events.HandleConnection)

	return router
}

func (s *Server) loopRunning() error {
	if !s.loop.Stats().Running {
		return errors.New("loop is not running")
	}
	return nil
}

func (s *Server) registryScanned() error {
	if s.registry.Stats().LastScan == nil {
		return errors.New("registry has not been scanned")
	}
	return nil
}

// Router returns the HTTP handler tree
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Loop returns the loop owning the controller
func (s *Server) Loop() *scheduler.Loop {
	return s.loop
}

// Display returns the headless toolkit standing in for a screen
func (s *Server) Display() *display.Headless {
	return s.display
}

// Run drives the loop, the optional app watcher and the HTTP server until
// ctx is cancelled or one of them fails
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop.Run(ctx)
	})

	if s.config.Runtime.WatchApps {
		g.Go(func() error {
			return s.registry.Watch(ctx, registry.DefaultDebounce)
		})
	}

	if s.config.Server.Enabled {
		g.Go(func() error {
			s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			if err := s.http.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down http server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Close stops the span collector and flushes the logger
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.tracer.Close()
	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
