package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/user"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
	"github.com/felixgeelhaar/drill/internal/scheduler"
	"github.com/felixgeelhaar/drill/internal/storage"
)

const (
	dbKey      = "db"
	learnerKey = "learner"
	verboseKey = "verbose"
)

// app carries what every subcommand needs once the store is open
type app struct {
	v       *viper.Viper
	cfg     *config.LocalConfig
	handle  *storage.Handle
	service *review.Service
	now     func() time.Time
}

func (a *app) learner() (string, error) {
	id := a.v.GetString(learnerKey)
	if id == "" {
		return "", fmt.Errorf("%w: set --learner or DRILL_LEARNER", domain.ErrInvalidInput)
	}
	return id, nil
}

func (a *app) today() domain.Date {
	return domain.DateOf(a.now())
}

// open loads configuration and opens the SQLite store named by --db
func (a *app) open(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := config.DrillDir()
	if err != nil {
		return err
	}
	config.ApplyEnv(cfg)
	cfg.ResolvePaths(dir)

	sched, err := scheduler.NewScheduler(cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	level := slog.LevelWarn
	if a.v.GetBool(verboseKey) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a.v.SetDefault(dbKey, cfg.Storage.SQLitePath)
	handle, err := storage.Open(ctx, config.StorageConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: a.v.GetString(dbKey),
	}, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	a.cfg = cfg
	a.handle = handle
	a.service = review.NewService(handle.Store, sched, review.Config{
		DefaultCapacity: cfg.Review.DailyCapacity,
		Logger:          logger,
		Now:             a.now,
	})
	return nil
}

func (a *app) close() error {
	if a.handle == nil {
		return nil
	}
	return a.handle.Close()
}

func defaultLearner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

// needsStore reports whether cmd reads or writes review state
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["store"] == "none" {
			return false
		}
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func bindFlagToViper(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	cobra.CheckErr(v.BindPFlag(key, flag))
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithClock(time.Now)
}

func newRootCmdWithClock(now func() time.Time) *cobra.Command {
	a := &app{v: viper.New(), now: now}
	a.v.SetEnvPrefix("DRILL")
	a.v.AutomaticEnv()
	a.v.SetDefault(learnerKey, defaultLearner())

	root := &cobra.Command{
		Use:   "drill",
		Short: "Spaced-repetition reviews for coding practice",
		Long: `Drill schedules reviews of practice items with the SM-2 algorithm.

Rate each review from 0 to 5:
  0 blackout, 1 wrong, 2 familiar    the item starts over tomorrow
  3 difficult, 4 hesitant, 5 perfect the interval grows`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsStore(cmd) {
				return nil
			}
			return a.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.String(dbKey, "", "SQLite database path (default ~/.drill/drill.db, env DRILL_DB)")
	flags.String(learnerKey, "", "learner ID (default current user, env DRILL_LEARNER)")
	flags.BoolP(verboseKey, "v", false, "log debug output to stderr")
	bindFlagToViper(a.v, dbKey, flags.Lookup(dbKey))
	bindFlagToViper(a.v, learnerKey, flags.Lookup(learnerKey))
	bindFlagToViper(a.v, verboseKey, flags.Lookup(verboseKey))

	root.AddCommand(
		newEnrollCmd(a),
		newReviewCmd(a),
		newDueCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
		newPreviewCmd(a),
		newRebuildCmd(a),
		newStatsCmd(a),
		newWeaknessCmd(a),
		newLearnersCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{"store": "none"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drill %s\n", Version)
		},
	}
}
