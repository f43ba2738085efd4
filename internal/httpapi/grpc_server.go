package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"studiodesk.app/internal/auth"
)

const (
	// AuthorizerService is the fully qualified gRPC service name.
	AuthorizerService = "studiodesk.auth.v1.Authorizer"
	// AuthorizeMethod is the full method name used by clients.
	AuthorizeMethod = "/" + AuthorizerService + "/Authorize"
)

// AuthorizerServer answers authorization questions for other services.
// Messages are google.protobuf.Struct so no generated stubs are needed.
type AuthorizerServer interface {
	Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var authorizerServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthorizerService,
	HandlerType: (*AuthorizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: authorizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studiodesk/auth/v1/authorizer.proto",
}

func authorizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizerServer).Authorize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthorizeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizerServer).Authorize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer implements the Authorizer service and the standard health
// service.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	gateway *auth.Gateway
	gate    *auth.PermissionGate
	ready   ReadinessChecker
	logger  *slog.Logger
}

// NewGRPCServer creates the gRPC service wrapper. ready and logger may be nil.
func NewGRPCServer(gateway *auth.Gateway, gate *auth.PermissionGate, ready ReadinessChecker, logger *slog.Logger) *GRPCServer {
	if ready == nil {
		ready = PingFunc(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{gateway: gateway, gate: gate, ready: ready, logger: logger}
}

// Register attaches the Authorizer and health services to s.
func (s *GRPCServer) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&authorizerServiceDesc, s)
	healthpb.RegisterHealthServer(reg, s)
}

// Authorize takes {access_token, permissions} and answers
// {allowed, code, user_id}. Denials are answers, not errors.
func (s *GRPCServer) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, required, err := parseAuthorizeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if token == "" {
		return authorizeResponse(false, auth.CodeNotAuthenticated, "")
	}
	identity, err := s.gateway.Authenticate(ctx, token)
	if err != nil {
		if !auth.IsBusinessError(err) {
			s.logger.ErrorContext(ctx, "grpc authenticate failed", "error", err)
			return nil, status.Error(codes.Internal, "authorization failed")
		}
		return authorizeResponse(false, auth.CodeNotAuthenticated, "")
	}

	if err := s.gate.Authorize(ctx, identity, required); err != nil {
		if !auth.IsBusinessError(err) {
			s.logger.ErrorContext(ctx, "grpc authorize failed", "user_id", identity.UserID, "error", err)
			return nil, status.Error(codes.Internal, "authorization failed")
		}
		return authorizeResponse(false, auth.ErrorCode(err), identity.UserID)
	}
	return authorizeResponse(true, "", identity.UserID)
}

// Check reports SERVING when the readiness probe passes.
func (s *GRPCServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ready.Check(ctx); err != nil {
		s.logger.WarnContext(ctx, "grpc health check failed", "error", err)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func parseAuthorizeRequest(req *structpb.Struct) (string, []string, error) {
	if req == nil {
		return "", nil, errors.New("request is required")
	}
	fields := req.GetFields()

	var token string
	if v, ok := fields["access_token"]; ok {
		sv, isString := v.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return "", nil, errors.New("access_token must be a string")
		}
		token = sv.StringValue
	}

	var required []string
	if v, ok := fields["permissions"]; ok {
		list := v.GetListValue()
		if list == nil {
			return "", nil, errors.New("permissions must be a list of strings")
		}
		for _, item := range list.GetValues() {
			sv, isString := item.GetKind().(*structpb.Value_StringValue)
			if !isString {
				return "", nil, errors.New("permissions must be a list of strings")
			}
			required = append(required, sv.StringValue)
		}
	}
	return token, required, nil
}

func authorizeResponse(allowed bool, code, userID string) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"allowed": allowed,
		"code":    code,
		"user_id": userID,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "authorization failed")
	}
	return out, nil
}

// AuthorizerClient calls a remote Authorizer.
type AuthorizerClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthorizerClient wraps cc.
func NewAuthorizerClient(cc grpc.ClientConnInterface) *AuthorizerClient {
	return &AuthorizerClient{cc: cc}
}

// Authorize invokes the Authorize method.
func (c *AuthorizerClient) Authorize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AuthorizeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoggingInterceptor logs one record per unary call.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.InfoContext(ctx, "grpc_call_complete",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
