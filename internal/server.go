package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/multierr"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/completion"
	"github.com/2beens/homecoach/internal/config"
	"github.com/2beens/homecoach/internal/middleware"
	"github.com/2beens/homecoach/internal/playback"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/progress/backup"
	"github.com/2beens/homecoach/internal/session"
	"github.com/2beens/homecoach/internal/stats"
	"github.com/2beens/homecoach/internal/telemetry/metrics"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"
)

const (
	janitorInterval = 5 * time.Minute
	backupsToKeep   = 14
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config         *config.Config
	redisClient    *redis.Client
	storage        *progressBackend
	tokenVerifier  *middleware.BcryptTokenVerifier
	rateLimiter    middleware.RequestRateLimiter
	progress       *progress.Service
	stats          *stats.Service
	sessionManager *session.Manager
	backuper       *backup.Backuper

	// background loops (janitor, backups)
	cancelBackground context.CancelFunc
	background       sync.WaitGroup

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	APITokenHash            string
	RedisPassword           string
	PostgresUser            string
	PostgresPassword        string
	HoneycombTracingEnabled bool

	// optional, for tests
	RedisClient   *redis.Client
	Clock         calendar.Clock
	TickerFactory playback.TickerFactory
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	clock := params.Clock
	if clock == nil {
		clock = calendar.SystemClock{}
	}

	firstDay, err := calendar.ParseWeekday(cfg.FirstDayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("first day of week: %w", err)
	}
	cal := calendar.New(cfg.Location(), firstDay)
	streakPolicy, err := stats.ParseStreakPolicy(cfg.StreakPolicy)
	if err != nil {
		return nil, err
	}
	completionConfig := completion.Config{
		TargetMinutes:     cfg.TargetMinutes,
		ThresholdFraction: cfg.ThresholdFraction,
	}
	if err := completionConfig.Validate(); err != nil {
		return nil, err
	}

	rdb := params.RedisClient
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
	}
	rdbStatus := rdb.Ping(ctx)
	redisAvailable := rdbStatus.Err() == nil
	if !redisAvailable {
		log.Errorf("--> failed to ping redis: %s", rdbStatus.Err())
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "homecoach-backend", rdb)
	if err != nil {
		return nil, err
	}

	storage, err := newProgressBackend(ctx, cfg, storageDeps{
		redisClient:      rdb,
		postgresUser:     params.PostgresUser,
		postgresPassword: params.PostgresPassword,
		tracingEnabled:   params.HoneycombTracingEnabled,
		clock:            clock,
	})
	if err != nil {
		otelShutdown()
		return nil, err
	}

	var extraCollectors []prometheus.Collector
	if storage.dbPool != nil {
		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			storage.dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}
	promRegistry := metrics.SetupPrometheus(extraCollectors...)
	metricsManager := metrics.NewManager("homecoach", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	progressService := progress.NewService(storage.backend, clock, metricsManager)
	loaded := progressService.Load(ctx)
	log.Infof("progress loaded from [%s] storage: %d days", cfg.StorageBackend, len(loaded))

	aggregator, err := stats.NewAggregator(cal, cfg.WeeklyGoal, streakPolicy)
	if err != nil {
		otelShutdown()
		return nil, multierr.Append(err, storage.close())
	}
	statsService := stats.NewService(progressService, aggregator, clock, cfg.StatsCacheSizeMB, metricsManager)

	sessionOpts := session.Options{
		Completion:  completionConfig,
		Calendar:    cal,
		Clock:       clock,
		ServerTicks: cfg.ServerTicks,
		Metrics:     metricsManager,

		TickerFactory: params.TickerFactory,
	}

	if params.APITokenHash == "" {
		log.Warnln("api token hash not set, all protected routes will reject requests")
	}

	s := &Server{
		config:         cfg,
		versionInfo:    params.VersionInfo,
		redisClient:    rdb,
		storage:        storage,
		tokenVerifier:  middleware.NewBcryptTokenVerifier(params.APITokenHash),
		progress:       progressService,
		stats:          statsService,
		sessionManager: session.NewManager(progressService, statsService, sessionOpts),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	if redisAvailable {
		s.rateLimiter = redis_rate.NewLimiter(rdb)
	} else {
		log.Warnln("redis not available, progress import is not rate limited")
	}

	if cfg.BackupEnabled {
		credentials, err := os.ReadFile(cfg.DriveCredentialsFile)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("read drive credentials: %w", err), s.closeResources())
		}
		uploader, err := backup.NewGoogleDriveUploaderFromCredentials(ctx, cfg.DriveFolderID, credentials)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("new drive uploader: %w", err), s.closeResources())
		}
		s.backuper = backup.NewBackuper(progressService, uploader, clock, metricsManager, backupsToKeep)
	}

	return s, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("homecoach-router"))

	r.HandleFunc("/", s.handleRoot).Methods("GET").Name("root")
	r.HandleFunc("/health", s.handleHealth).Methods("GET").Name("health")

	sessionHandler := session.NewHandler(s.sessionManager)
	r.HandleFunc("/sessions", sessionHandler.HandleCreate).Methods("POST", "OPTIONS").Name("start-session")
	r.HandleFunc("/sessions/{id}", sessionHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-session")
	r.HandleFunc("/sessions/{id}/play", sessionHandler.HandlePlay).Methods("POST", "OPTIONS").Name("play-session")
	r.HandleFunc("/sessions/{id}/pause", sessionHandler.HandlePause).Methods("POST", "OPTIONS").Name("pause-session")
	r.HandleFunc("/sessions/{id}/tick", sessionHandler.HandleTick).Methods("POST", "OPTIONS").Name("tick-session")
	r.HandleFunc("/sessions/{id}/end", sessionHandler.HandleEnd).Methods("POST", "OPTIONS").Name("end-session")

	progressHandler := progress.NewHandler(s.progress)
	statsHandler := stats.NewHandler(s.stats)
	r.HandleFunc("/progress", progressHandler.HandleList).Methods("GET", "OPTIONS").Name("list-progress")
	r.HandleFunc("/progress", progressHandler.HandleReset).Methods("DELETE").Name("reset-progress")
	r.HandleFunc("/progress/stats", statsHandler.HandleGet).Methods("GET", "OPTIONS").Name("progress-stats")
	r.HandleFunc("/progress/export", progressHandler.HandleExport).Methods("GET", "OPTIONS").Name("export-progress")

	var importHandler http.Handler = http.HandlerFunc(progressHandler.HandleImport)
	if s.rateLimiter != nil {
		importHandler = middleware.RateLimit(
			s.rateLimiter,
			"progress-import",
			s.config.ImportsPerMinute,
			s.metricsManager,
		)(importHandler)
	}
	r.Handle("/progress/import", importHandler).Methods("POST", "OPTIONS").Name("import-progress")

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "DELETE", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.tokenVerifier)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, fmt.Sprintf("homecoach %s", s.versionInfo))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSON(w, map[string]any{
		"status":         "ok",
		"storage":        s.config.StorageBackend,
		"activeSessions": s.sessionManager.Active(),
	}, http.StatusOK)
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(host, strconv.Itoa(s.config.MetricsPort))
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.startBackground(ctx)
	s.metricsManager.GaugeLifeSignal.Set(1)
}

// startBackground runs the idle session janitor and, when enabled, the backup loop.
func (s *Server) startBackground(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancelBackground = cancel

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.sessionManager.RunJanitor(bgCtx, janitorInterval, s.config.SessionIdleTimeout)
	}()

	if s.backuper != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.backuper.Loop(bgCtx, s.config.BackupInterval)
		}()
	}
}

func (s *Server) GracefulShutdown() error {
	log.Debug("graceful shutdown initiated ...")
	s.metricsManager.GaugeLifeSignal.Set(0)

	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	s.background.Wait()

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown http server: %w", shutdownErr))
		}
		log.Warnln("server shut down")
	}

	// live sessions still produce their outcome
	if endErr := s.sessionManager.Shutdown(ctx); endErr != nil {
		err = multierr.Append(err, endErr)
	}

	if s.metricsHttpServer != nil {
		if shutdownErr := s.metricsHttpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown metrics server: %w", shutdownErr))
		}
		log.Warnln("metrics server shut down")
	}

	err = multierr.Append(err, s.closeResources())

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	if err != nil {
		log.Errorf(" >>> graceful shutdown: %s", err)
	}
	return err
}

func (s *Server) closeResources() error {
	s.otelShutdown()
	log.Trace("otel shut down ...")

	var err error
	if s.storage != nil {
		if closeErr := s.storage.close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close storage: %w", closeErr))
		}
	}
	if s.redisClient != nil {
		if closeErr := s.redisClient.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis client: %w", closeErr))
		}
	}
	return err
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
