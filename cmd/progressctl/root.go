package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/config"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/stats"

	"github.com/spf13/cobra"
)

// options are the persistent flags, optionally seeded from a service config file.
type options struct {
	configPath string
	env        string

	backend    string
	path       string
	weeklyGoal int
	firstDay   string
	timeZone   string
	policy     string

	// drive backup
	driveFolderID   string
	credentialsFile string

	clock calendar.Clock
}

func newRootCmd(clock calendar.Clock) *cobra.Command {
	opts := &options{clock: clock}

	rootCmd := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect and maintain HomeCoach workout progress",
		Long:          "progressctl reads and writes the progress store of a HomeCoach service running on a local backend (file or sqlite).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.applyConfig(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "service TOML config to take defaults from")
	flags.StringVar(&opts.env, "env", "development", "config environment [dev | development | prod | production]")
	flags.StringVar(&opts.backend, "backend", config.StorageFile, "storage backend [file | sqlite]")
	flags.StringVar(&opts.path, "path", "./data/progress.json", "progress file or sqlite database path")
	flags.IntVar(&opts.weeklyGoal, "weekly-goal", stats.DefaultWeeklyGoal, "weekly goal in days, 1-7")
	flags.StringVar(&opts.firstDay, "first-day", "sunday", "first day of the week")
	flags.StringVar(&opts.timeZone, "tz", "", "IANA time zone for day boundaries, empty for local")
	flags.StringVar(&opts.policy, "streak-policy", string(stats.PolicyTodayOrYesterday), "streak policy [today_or_yesterday | today_only]")
	flags.StringVar(&opts.driveFolderID, "drive-folder", "", "google drive folder id for backups")
	flags.StringVar(&opts.credentialsFile, "drive-credentials", "", "google service account credentials file")

	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newResetCmd(opts))
	rootCmd.AddCommand(newBackupCmd(opts))
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd
}

// applyConfig fills every flag the user did not set explicitly from the config file.
func (o *options) applyConfig(cmd *cobra.Command) error {
	if o.configPath == "" {
		return nil
	}
	cfg, err := config.Load(o.env, o.configPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if !changed("backend") {
		o.backend = cfg.StorageBackend
	}
	if !changed("path") {
		switch o.backend {
		case config.StorageSQLite:
			o.path = cfg.SQLitePath
		default:
			o.path = cfg.ProgressFile
		}
	}
	if !changed("weekly-goal") {
		o.weeklyGoal = cfg.WeeklyGoal
	}
	if !changed("first-day") {
		o.firstDay = cfg.FirstDayOfWeek
	}
	if !changed("tz") {
		o.timeZone = cfg.TimeZone
	}
	if !changed("streak-policy") {
		o.policy = cfg.StreakPolicy
	}
	if !changed("drive-folder") {
		o.driveFolderID = cfg.DriveFolderID
	}
	if !changed("drive-credentials") {
		o.credentialsFile = cfg.DriveCredentialsFile
	}
	return nil
}

func (o *options) calendar() (*calendar.Calendar, error) {
	firstDay, err := calendar.ParseWeekday(o.firstDay)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if o.timeZone != "" {
		if loc, err = time.LoadLocation(o.timeZone); err != nil {
			return nil, fmt.Errorf("time zone %q: %w", o.timeZone, err)
		}
	}
	return calendar.New(loc, firstDay), nil
}

func (o *options) aggregator() (*stats.Aggregator, error) {
	cal, err := o.calendar()
	if err != nil {
		return nil, err
	}
	policy, err := stats.ParseStreakPolicy(o.policy)
	if err != nil {
		return nil, err
	}
	return stats.NewAggregator(cal, o.weeklyGoal, policy)
}

// openService loads the progress store from the selected backend.
// Callers must invoke the returned close func.
func (o *options) openService(ctx context.Context) (*progress.Service, func() error, error) {
	var (
		backend progress.Backend
		closeFn = func() error { return nil }
	)
	switch o.backend {
	case config.StorageFile:
		backend = progress.NewFileBackend(o.path, o.clock)
	case config.StorageSQLite:
		sqliteBackend, err := progress.NewSQLiteBackend(o.path)
		if err != nil {
			return nil, nil, err
		}
		backend = sqliteBackend
		closeFn = sqliteBackend.Close
	case "":
		return nil, nil, errors.New("no storage backend selected")
	default:
		return nil, nil, fmt.Errorf("backend [%s] not supported by progressctl, use the service API", o.backend)
	}

	service := progress.NewService(backend, o.clock, nil)
	service.Load(ctx)
	return service, closeFn, nil
}
