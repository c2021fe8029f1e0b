package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server gRPC服务器及其健康检查
// Health在优雅关闭时先置为NOT_SERVING，让负载均衡摘掉本实例
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer 创建gRPC服务器并注册取餐号服务、健康检查、反射
func NewServer(h *DisplayNumberHandler, log *zap.Logger) *Server {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(log),
			LoggingInterceptor(log),
		),
	)

	RegisterDisplayNumberServiceServer(srv, h)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// 开发环境用grpcurl调试
	reflection.Register(srv)

	return &Server{Server: srv, Health: healthServer}
}

// GracefulStop 先摘流量再等待进行中的请求完成
func (s *Server) GracefulStop() {
	s.Health.Shutdown()
	s.Server.GracefulStop()
}

// LoggingInterceptor 记录每个RPC的方法、状态码和耗时
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			log.Warn("gRPC请求失败", append(fields, zap.Error(err))...)
		} else {
			log.Debug("gRPC请求", fields...)
		}
		return resp, err
	}
}

// RecoveryInterceptor 捕获handler中的panic，转为Internal错误
func RecoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("gRPC handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "系统内部错误")
			}
		}()
		return handler(ctx, req)
	}
}
