package remote

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server runs step requests on the local host. Paths in requests are used
// as-is, so client and server must share a filesystem.
type Server struct {
	exec    job.Executor
	checker environ.Checker
	logger  *zap.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithChecker replaces the environment checker, which defaults to the
// server process's environment and PATH.
func WithChecker(c environ.Checker) ServerOption {
	return func(s *Server) { s.checker = c }
}

// NewServer wraps exec (usually job.LocalExecutor) for remote callers.
func NewServer(exec job.Executor, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{exec: exec, logger: logger.Named("stepd")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches the StepExecutor service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Execute implements the StepExecutor RPC.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Info("execute", zap.String("program", req.Program), zap.String("dir", req.Dir))

	code, err := s.exec.Execute(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrExecutableNotFound):
		return nil, status.Error(codes.NotFound, req.Program)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return nil, status.Error(codes.Canceled, err.Error())
	default:
		s.logger.Error("execute failed", zap.String("program", req.Program), zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"exit_code": code})
}

// CheckEnvironment implements the CheckEnvironment RPC. An incomplete
// environment is reported as FailedPrecondition with the checker's message.
func (s *Server) CheckEnvironment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	programs := toStrings(in.GetFields()["programs"])
	err := s.checker.Check(ctx, programs)
	switch {
	case err == nil:
	case errors.Is(err, environ.ErrEnvironment):
		s.logger.Warn("environment check failed", zap.Error(err))
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	default:
		return nil, status.FromContextError(err).Err()
	}
	return structpb.NewStruct(map[string]any{"programs": len(programs)})
}
