package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/2beens/homecoach/internal"
	"github.com/2beens/homecoach/internal/config"
	"github.com/2beens/homecoach/internal/logging"
	"github.com/2beens/homecoach/pkg"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "homecoach-service",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)
	log.Debugf("using storage backend: [%s], profile [%s]", cfg.StorageBackend, cfg.Profile)

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	apiTokenHash := os.Getenv("HOMECOACH_API_TOKEN_HASH")
	if apiTokenHash == "" {
		log.Fatalln("api token hash not set. use HOMECOACH_API_TOKEN_HASH (see: progressctl token)")
	}

	redisPassword := os.Getenv("HOMECOACH_REDIS_PASS")
	if redisPassword == "" {
		log.Errorf("redis password not set. use HOMECOACH_REDIS_PASS")
	}

	postgresUser := os.Getenv("HOMECOACH_DB_USER")
	postgresPassword := os.Getenv("HOMECOACH_DB_PASS")
	if cfg.StorageBackend == config.StoragePostgres && (postgresUser == "" || postgresPassword == "") {
		log.Fatalln("postgres storage selected, but HOMECOACH_DB_USER / HOMECOACH_DB_PASS not set")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	// local backends keep their data next to each other, make sure the dir is there
	if err := ensureDataDir(cfg); err != nil {
		log.Fatalf("data dir: %s", err)
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			VersionInfo:             versionInfo,
			APITokenHash:            apiTokenHash,
			RedisPassword:           redisPassword,
			PostgresUser:            postgresUser,
			PostgresPassword:        postgresPassword,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, ending sessions and shutting down ...", receivedSig)
	cancel()

	if err := server.GracefulShutdown(); err != nil {
		log.Errorf("graceful shutdown: %s", err)
	}
}

func ensureDataDir(cfg *config.Config) error {
	var path string
	switch cfg.StorageBackend {
	case config.StorageFile:
		path = filepath.Dir(cfg.ProgressFile)
	case config.StorageSQLite:
		path = filepath.Dir(cfg.SQLitePath)
	default:
		return nil
	}

	exists, err := pkg.PathExists(path, true)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}
	if !exists {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}
	log.Printf("data dir: %s", path)
	return nil
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}
