package remote

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const (
	serviceName   = "modelcraft.remote.v1.StepExecutor"
	executeMethod = "/" + serviceName + "/Execute"
	checkMethod   = "/" + serviceName + "/CheckEnvironment"
)

// executorServer is the handler type registered for the StepExecutor service.
type executorServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckEnvironment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*executorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "CheckEnvironment", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelcraft/remote/executor",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv.(executorServer).Execute, executeMethod, srv, ctx, dec, interceptor)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv.(executorServer).CheckEnvironment, checkMethod, srv, ctx, dec, interceptor)
}

func unary(
	call func(context.Context, *structpb.Struct) (*structpb.Struct, error),
	method string, srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region wire
func encodeRequest(req job.Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"dir":         req.Dir,
		"program":     req.Program,
		"args":        toAnySlice(req.Args),
		"stdin":       toAnySlice(req.Stdin),
		"env":         toAnySlice(req.Env),
		"stdout_path": req.StdoutPath,
		"stderr_path": req.StderrPath,
	})
}

func decodeRequest(s *structpb.Struct) (job.Request, error) {
	f := s.GetFields()
	req := job.Request{
		Dir:        f["dir"].GetStringValue(),
		Program:    f["program"].GetStringValue(),
		Args:       toStrings(f["args"]),
		Stdin:      toStrings(f["stdin"]),
		Env:        toStrings(f["env"]),
		StdoutPath: f["stdout_path"].GetStringValue(),
		StderrPath: f["stderr_path"].GetStringValue(),
	}
	if req.Program == "" {
		return job.Request{}, fmt.Errorf("request has no program")
	}
	if req.Dir == "" || req.StdoutPath == "" || req.StderrPath == "" {
		return job.Request{}, fmt.Errorf("request for %s has no working paths", req.Program)
	}
	return req, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStrings(v *structpb.Value) []string {
	list := v.GetListValue().GetValues()
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, item.GetStringValue())
	}
	return out
}

// #endregion wire
