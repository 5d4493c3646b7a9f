package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/modelcraft/internal/artifact"
	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/logging"
	"github.com/danielpatrickdp/modelcraft/internal/metrics"
	"github.com/danielpatrickdp/modelcraft/internal/pipeline"
	"github.com/danielpatrickdp/modelcraft/internal/remote"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// ErrDirectoryExists is returned when the run directory holds files and
// overwriting was not requested.
var ErrDirectoryExists = errors.New("run directory already exists")

const publishTimeout = 10 * time.Minute

// #region run

// runPipeline wires every component for one job and runs it to termination.
// Errors are returned only for failures before the controller starts; after
// that the outcome is the Termination.
func runPipeline(ctx context.Context, cfg config.Config, out io.Writer) (pipeline.Termination, error) {
	dir, err := prepareDirectory(cfg.Run.Directory, cfg.Run.OverwriteDirectory)
	if err != nil {
		return pipeline.Termination{}, err
	}
	cfg.Run.Directory = dir
	if cfg.Logger.LogFile == "" {
		cfg.Logger.LogFile = filepath.Join(dir, "logs", "modelcraft.log")
	}

	logger := logging.New(cfg.Logger, zapcore.Lock(os.Stderr))
	defer logger.Sync()
	logger.Info("starting",
		zap.String("mode", string(cfg.Mode)),
		zap.String("directory", dir),
		zap.Int("cycles", cfg.Run.Cycles),
		zap.Int("auto_stop_cycles", cfg.Run.AutoStopCycles),
	)

	contents, err := xtal.LoadContents(cfg.Run.Contents)
	if err != nil {
		return pipeline.Termination{}, err
	}

	store, err := state.NewStore(filepath.Join(dir, pipeline.OutputStore))
	if err != nil {
		return pipeline.Termination{}, err
	}
	defer store.Close()

	rep := report.New(filepath.Join(dir, pipeline.OutputReport), logger)
	m := metrics.New()

	var executor job.Executor = job.LocalExecutor{}
	preflight := func(ctx context.Context) error { return environ.Check(ctx, cfg) }
	if cfg.Remote.Address != "" {
		client, err := remote.Dial(cfg.Remote.Address)
		if err != nil {
			return pipeline.Termination{}, err
		}
		defer client.Close()
		executor = client
		// programs resolve on the stepd host
		preflight = func(ctx context.Context) error {
			return client.CheckEnvironment(ctx, environ.Programs(cfg))
		}
		logger.Info("remote execution", zap.String("address", cfg.Remote.Address))
	}

	ws, err := job.NewWorkspace(dir, job.Options{
		KeepFiles: cfg.Run.KeepFiles,
		KeepLogs:  cfg.Run.KeepLogs,
		Timeout:   cfg.Run.StepTimeout,
		Threads:   cfg.Run.Threads,
		Executor:  executor,
		Timings:   pipeline.Timings{rep, pipeline.StoreTimings{Store: store, Logger: logger}, m},
		Logger:    logger,
	})
	if err != nil {
		return pipeline.Termination{}, err
	}
	defer ws.Close()

	runner := steps.NewRunner(ws, steps.RunnerConfig{
		EM:         cfg.Mode == config.ModeEM,
		Twinned:    cfg.XRay.Twinned,
		Contents:   contents,
		Maps:       cfg.EM.Maps,
		Mask:       cfg.EM.Mask,
		Resolution: cfg.EM.Resolution,
		Blur:       cfg.EM.Blur,
	})

	ctrl, err := pipeline.New(pipeline.Options{
		Config:    cfg,
		Contents:  contents,
		Runner:    runner,
		Store:     store,
		Report:    rep,
		Metrics:   m,
		Logger:    logger,
		Progress:  pipeline.NewProgress(out, cfg.Mode == config.ModeEM),
		Preflight: preflight,
	})
	if err != nil {
		return pipeline.Termination{}, err
	}

	term := ctrl.Run(ctx)

	promPath := filepath.Join(dir, pipeline.OutputMetrics)
	if err := m.WriteFile(promPath); err != nil {
		logger.Warn("write metrics", zap.Error(err))
	}
	if cfg.Publish.URL != "" && term.Normal() {
		publish(cfg.Publish, logger,
			filepath.Join(dir, pipeline.OutputStructure),
			filepath.Join(dir, pipeline.OutputMap),
			filepath.Join(dir, pipeline.OutputReport),
			promPath,
		)
	}
	return term, nil
}

// #endregion run

// #region helpers

// prepareDirectory creates the run directory. An existing non-empty
// directory is an error unless overwrite is set, in which case it is
// emptied. The absolute path is returned.
func prepareDirectory(dir string, overwrite bool) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory: %w", err)
	}
	entries, err := os.ReadDir(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return "", fmt.Errorf("read directory: %w", err)
	case len(entries) > 0 && !overwrite:
		return "", fmt.Errorf("%w: %s (use --overwrite-directory)", ErrDirectoryExists, abs)
	case len(entries) > 0:
		if err := os.RemoveAll(abs); err != nil {
			return "", fmt.Errorf("clear directory: %w", err)
		}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return abs, nil
}

func publish(cfg config.PublishConfig, logger *zap.Logger, files ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pub, err := artifact.NewS3(ctx, artifact.S3Config{
		URL:       cfg.URL,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
	if err != nil {
		logger.Error("publish", zap.Error(err))
		return
	}
	if _, err := artifact.PublishFiles(ctx, pub, logger.Named("publish"), files...); err != nil {
		logger.Error("publish", zap.Error(err))
	}
}

// #endregion helpers
