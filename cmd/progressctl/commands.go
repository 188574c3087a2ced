package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/progress/backup"
	"github.com/2beens/homecoach/pkg"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	tokenLength   = 32
	backupsToKeep = 14
)

func newStatsCmd(opts *options) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print streaks, weekly progress and totals as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			aggregator, err := opts.aggregator()
			if err != nil {
				return err
			}
			today := aggregator.Calendar().Today(opts.clock)
			if date != "" {
				if today, err = calendar.ParseDateKey(date); err != nil {
					return err
				}
			}

			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			aggregated, err := aggregator.Compute(service.Current(), today)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), aggregated)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluate as of this day (YYYY-MM-DD), default today")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded days, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			outcomes := service.Current().Outcomes()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tCOMPLETED\tMINUTES\tPERCENT\tRECORDED")
			printed := 0
			for i := len(outcomes) - 1; i >= 0; i-- {
				if limit > 0 && printed == limit {
					break
				}
				o := outcomes[i]
				fmt.Fprintf(w, "%s\t%t\t%d\t%d%%\t%s\n",
					o.Date, o.Completed, o.AudioMinutes, o.CompletionPercentage, o.Timestamp.Format("2006-01-02 15:04"),
				)
				printed++
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n days, 0 for all")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a versioned progress snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			data, err := service.Export()
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, stdout when empty")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Import a progress snapshot (any schema version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importMode := progress.ImportMode(mode)
			if !importMode.IsValid() {
				return fmt.Errorf("invalid import mode [%s]", mode)
			}

			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			store, err := service.Import(cmd.Context(), data, importMode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported (%s), store now holds %d days\n", importMode, len(store))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(progress.ImportMerge), "import mode [merge | replace]")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all recorded progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("refusing to reset without --yes")
			}
			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := service.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "progress reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}

func newBackupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot to google drive and prune old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.driveFolderID == "" || opts.credentialsFile == "" {
				return errors.New("--drive-folder and --drive-credentials are required")
			}
			credentials, err := os.ReadFile(opts.credentialsFile)
			if err != nil {
				return fmt.Errorf("read drive credentials: %w", err)
			}

			service, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			uploader, err := backup.NewGoogleDriveUploaderFromCredentials(cmd.Context(), opts.driveFolderID, credentials)
			if err != nil {
				return err
			}
			backuper := backup.NewBackuper(service, uploader, opts.clock, nil, backupsToKeep)
			fileID, err := backuper.Run(cmd.Context())
			if err != nil {
				return err
			}
			log.Debugf("backup uploaded: %s", fileID)
			fmt.Fprintf(cmd.OutOrStdout(), "backup uploaded, file id: %s\n", fileID)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a device API token and its hash",
		Long:  "Generates a random device token. Give the token to the app and set the hash as HOMECOACH_API_TOKEN_HASH on the service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := pkg.GenerateRandomString(tokenLength)
			if err != nil {
				return err
			}
			hash, err := pkg.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s\nhash:  %s\n", token, hash)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
