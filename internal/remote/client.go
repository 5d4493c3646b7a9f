package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client is a job.Executor that forwards every invocation to a stepd server.
type Client struct {
	conn *grpc.ClientConn
}

// #endregion client-struct

// #region constructor
// Dial connects to the step executor at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #endregion constructor

// #region execute
// Execute implements job.Executor.
func (c *Client) Execute(ctx context.Context, req job.Request) (int, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return -1, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeMethod, in, out); err != nil {
		return -1, fromStatus(ctx, req.Program, err)
	}
	return int(out.GetFields()["exit_code"].GetNumberValue()), nil
}

// CheckEnvironment asks the server to verify its CCP4 variables and that
// programs resolve on its PATH. A failure wraps environ.ErrEnvironment.
func (c *Client) CheckEnvironment(ctx context.Context, programs []string) error {
	in, err := structpb.NewStruct(map[string]any{"programs": toAnySlice(programs)})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	err = c.conn.Invoke(ctx, checkMethod, in, out)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, _ := status.FromError(err)
	if st.Code() == codes.FailedPrecondition {
		msg := strings.TrimPrefix(st.Message(), environ.ErrEnvironment.Error()+": ")
		return fmt.Errorf("%w: remote: %s", environ.ErrEnvironment, msg)
	}
	return fmt.Errorf("%w: remote check: %v", environ.ErrEnvironment, err)
}

func fromStatus(ctx context.Context, program string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return &job.ExecutableNotFoundError{Program: program, Err: err}
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.Canceled:
		return context.Canceled
	}
	return fmt.Errorf("remote execute %s: %w", program, err)
}

// #endregion execute
