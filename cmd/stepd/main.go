// Command stepd executes modelcraft steps on behalf of remote controllers.
// Controller and daemon must share the run directory's filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/logging"
	"github.com/danielpatrickdp/modelcraft/internal/remote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	lc := config.DefaultConfig().Logger
	lc.ServiceName = "stepd"
	var addr string

	cmd := &cobra.Command{
		Use:           "stepd",
		Short:         "Serve modelcraft step execution over gRPC",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.New(lc, zapcore.Lock(os.Stderr))
			defer logger.Sync()
			// a full X-ray run needs the largest program set
			if err := environ.Check(cmd.Context(), fullXRay()); err != nil {
				logger.Warn("environment incomplete; affected steps will fail", zap.Error(err))
			}
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serve(cmd.Context(), lis, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":7461", "address to listen on")
	cmd.Flags().StringVar(&lc.Level, "log-level", lc.Level, "debug, info, warn or error")
	cmd.Flags().StringVar(&lc.Format, "log-format", lc.Format, "console or json")
	cmd.Flags().StringVar(&lc.LogFile, "log-file", "", "rotating JSON log file")
	return cmd
}

// serve runs the executor service on lis until ctx is cancelled.
func serve(ctx context.Context, lis net.Listener, logger *zap.Logger) error {
	gs := grpc.NewServer()
	remote.NewServer(job.LocalExecutor{}, logger).Register(gs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down")
		gs.GracefulStop()
	}()

	logger.Info("serving", zap.String("address", lis.Addr().String()))
	err := gs.Serve(lis)
	if ctx.Err() != nil {
		<-done
	}
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func fullXRay() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeXRay
	return cfg
}
