package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestIDKey = "x-request-id"

// LoggingInterceptor logs all gRPC requests
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", events.CorrelationID(ctx)),
		}
		if err != nil {
			log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			log.Info("gRPC request completed", fields...)
		}

		return resp, err
	}
}

// RequestIDInterceptor propagates the caller's x-request-id, or a fresh one,
// as the correlation ID of events emitted while serving the call.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := firstMetadata(ctx, requestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		return handler(events.WithCorrelationID(ctx, requestID), req)
	}
}

// publicMethods can be called without a token even when authentication is required.
var publicMethods = map[string]bool{
	fullMethod("SearchBooks"): true,
}

// AuthInterceptor verifies a bearer token sent in the authorization metadata
// and stores its principal in the context. When required is false, calls without
// a token pass through. When it is true, lending calls other than the public ones
// are refused without a token; health and reflection stay open.
func AuthInterceptor(authSvc *auth.Service, required bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		header := firstMetadata(ctx, "authorization")
		if header == "" {
			if required && requiresToken(info.FullMethod) {
				return nil, status.Error(codes.Unauthenticated, "Not authenticated")
			}
			return handler(ctx, req)
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata")
		}
		principal, err := authSvc.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(auth.WithPrincipal(ctx, principal), req)
	}
}

func requiresToken(method string) bool {
	return strings.HasPrefix(method, "/"+serviceName+"/") && !publicMethods[method]
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
