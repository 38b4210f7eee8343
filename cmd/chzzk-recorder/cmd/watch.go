package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Vueroeruco/chzzk-recorder/internal/auth"
	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
	"github.com/Vueroeruco/chzzk-recorder/internal/config"
	"github.com/Vueroeruco/chzzk-recorder/internal/history"
	"github.com/Vueroeruco/chzzk-recorder/internal/httpapi"
	"github.com/Vueroeruco/chzzk-recorder/internal/observability"
	"github.com/Vueroeruco/chzzk-recorder/internal/recorder"
	"github.com/Vueroeruco/chzzk-recorder/internal/startup"
	"github.com/Vueroeruco/chzzk-recorder/internal/supervisor"
	"github.com/Vueroeruco/chzzk-recorder/internal/version"
)

// emptyRecordingMaxAge guards against deleting a file a worker just opened.
const emptyRecordingMaxAge = time.Hour

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch channels and record live broadcasts",
	Long: `Start the watch loop: poll every target channel, record live ones to
MPEG-TS files, restart stalled recordings and refresh the session on
schedule. Runs until SIGINT or SIGTERM.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSlice("channel", nil, "channel ID to watch (repeatable)")
	watchCmd.Flags().String("recordings-dir", "./recordings", "directory for recorded files")
	watchCmd.Flags().String("session", "./config/session.json", "session blob path")

	mustBindPFlag("recorder.target_channels", watchCmd.Flags().Lookup("channel"))
	mustBindPFlag("storage.recordings_dir", watchCmd.Flags().Lookup("recordings-dir"))
	mustBindPFlag("auth.session_path", watchCmd.Flags().Lookup("session"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	// initConfig has already populated the global viper with defaults, the
	// config file and environment; flag bindings land there too.
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		logger.Error("configuration invalid", slog.String("error", err.Error()))
		return err
	}
	if err := cfg.ValidateTargets(); err != nil {
		logger.Error("configuration invalid", slog.String("error", err.Error()))
		return err
	}

	// Tee the watch loop's log output into logs/<YYYYMMDD>/ so diagnostics
	// survive the terminal session.
	if cfg.Storage.LogsDir != "" {
		logSink := observability.NewDatedFileWriter(cfg.Storage.LogsDir, "chzzk-recorder")
		defer logSink.Close()

		logger = observability.NewLoggerWithWriter(resolvedLogging, io.MultiWriter(os.Stderr, logSink))
		observability.SetDefault(logger)
	}

	instanceID := uuid.NewString()
	logger = logger.With(slog.String("instance_id", instanceID))
	logger.Info("starting",
		slog.String("version", version.Short()),
		slog.Int("channels", len(cfg.Recorder.TargetChannels)),
	)

	// Sweep leftovers from a previous run before anything opens files.
	if removed, err := startup.CleanupEmptyRecordings(logger, cfg.Storage.RecordingsDir, emptyRecordingMaxAge); err != nil {
		logger.Warn("recording cleanup failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("removed empty recordings from previous run", slog.Int("count", removed))
	}
	if _, err := startup.CleanupEmptyLogDirs(logger, cfg.Storage.LogsDir); err != nil {
		logger.Warn("log directory cleanup failed", slog.String("error", err.Error()))
	}

	store, err := auth.NewStore(cfg.Auth.SessionPath)
	if err != nil {
		logger.Error("session unavailable", slog.String("error", err.Error()))
		return err
	}

	hist, err := history.Open(cfg.Storage.HistoryDB)
	if err != nil {
		logger.Error("history database unavailable", slog.String("error", err.Error()))
		return err
	}
	if n, err := hist.CloseDangling(cmd.Context(), time.Now()); err != nil {
		logger.Warn("closing dangling history rows failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("closed dangling history rows", slog.Int64("count", n))
	}

	client := chzzk.NewClient(store).
		WithLogger(observability.WithComponent(logger, "chzzk"))

	refresher := auth.NewRefresher(store, func(ctx context.Context) (auth.Cookies, error) {
		// The login collaborator rewrites the session blob; pick it up.
		return auth.LoadCookies(cfg.Auth.SessionPath)
	}, cfg.Auth.RefreshHours).
		WithLogger(observability.WithComponent(logger, "refresher"))

	sup := supervisor.New(supervisor.Options{
		StallRestart: cfg.Recorder.StallRestart,
		Journal:      hist,
		Logger:       observability.WithComponent(logger, "supervisor"),
		NewWorker: func(detail chzzk.LiveDetail) supervisor.Worker {
			return recorder.New(detail, recorder.Options{
				Store:           store,
				RecordingsDir:   cfg.Storage.RecordingsDir,
				ArchiveDir:      cfg.Storage.ArchiveDir,
				Quality:         cfg.Recorder.Quality,
				OnStartPrevious: cfg.Recorder.OnStartPrevious,
				LLHLS:           cfg.Recorder.LLHLS,
				Prefetch:        cfg.Recorder.Prefetch,
				LiveEdgeBias:    cfg.Recorder.LiveEdgeBias,
				MinFreeBytes:    int64(cfg.Recorder.MinFreeBytes),
				Logger:          observability.WithComponent(logger, "downloader"),
			})
		},
	})

	poller := supervisor.NewPoller(client, sup,
		cfg.Recorder.TargetChannels,
		cfg.Recorder.PollInterval,
		cfg.Recorder.PollConcurrency,
	).WithLogger(observability.WithComponent(logger, "poller"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := refresher.Start(ctx); err != nil {
		logger.Error("starting session refresher failed", slog.String("error", err.Error()))
		return err
	}
	defer refresher.Stop()

	var apiServer *httpapi.Server
	if cfg.Server.Enabled {
		serverCfg := httpapi.DefaultServerConfig()
		serverCfg.Host = cfg.Server.Host
		serverCfg.Port = cfg.Server.Port

		handler := httpapi.NewHandler(version.Short(), cfg.Storage.RecordingsDir, sup, hist, refresher.LastRefresh)
		apiServer = httpapi.NewServer(serverCfg, observability.WithComponent(logger, "http"), version.Short(), handler)

		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("http api failed", slog.String("error", err.Error()))
			}
		}()
	}

	err = poller.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watch loop failed", slog.String("error", err.Error()))
	}

	logger.Info("shutting down")
	sup.StopAll(context.Background())

	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			logger.Warn("http api shutdown failed", slog.String("error", err.Error()))
		}
	}

	fmt.Fprintln(os.Stderr, "stopped")
	return nil
}
