package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC服务全名
const ServiceName = "displayno.v1.DisplayNumberService"

// 方法名
const (
	MethodGenerateOrderID = "GenerateOrderID"
	MethodAllocate        = "Allocate"
	MethodRelease         = "Release"
	MethodGetSlotStats    = "GetSlotStats"
)

// DisplayNumberServiceServer 面向订单服务等协作方的取餐号接口
//
// 请求和响应都是google.protobuf.Struct：协作方只传几个标量字段，
// 不需要为此单独维护一份.proto和生成代码。
type DisplayNumberServiceServer interface {
	GenerateOrderID(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Allocate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Release(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSlotStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv DisplayNumberServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler 生成grpc.MethodDesc需要的handler（与protoc-gen-go-grpc生成的代码等价）
func unaryHandler(method string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DisplayNumberServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DisplayNumberServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// FullMethod 返回"/displayno.v1.DisplayNumberService/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// DisplayNumberServiceDesc 服务描述
var DisplayNumberServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DisplayNumberServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodGenerateOrderID,
			Handler: unaryHandler(MethodGenerateOrderID, func(s DisplayNumberServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return s.GenerateOrderID(ctx, req)
			}),
		},
		{
			MethodName: MethodAllocate,
			Handler: unaryHandler(MethodAllocate, func(s DisplayNumberServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return s.Allocate(ctx, req)
			}),
		},
		{
			MethodName: MethodRelease,
			Handler: unaryHandler(MethodRelease, func(s DisplayNumberServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return s.Release(ctx, req)
			}),
		},
		{
			MethodName: MethodGetSlotStats,
			Handler: unaryHandler(MethodGetSlotStats, func(s DisplayNumberServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return s.GetSlotStats(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "displayno/v1/display_number.proto",
}

// RegisterDisplayNumberServiceServer 注册服务
func RegisterDisplayNumberServiceServer(s grpc.ServiceRegistrar, srv DisplayNumberServiceServer) {
	s.RegisterService(&DisplayNumberServiceDesc, srv)
}

// DisplayNumberServiceClient 客户端（协作方和测试使用）
type DisplayNumberServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDisplayNumberServiceClient 创建客户端
func NewDisplayNumberServiceClient(cc grpc.ClientConnInterface) *DisplayNumberServiceClient {
	return &DisplayNumberServiceClient{cc: cc}
}

func (c *DisplayNumberServiceClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateOrderID 生成内部订单ID
func (c *DisplayNumberServiceClient) GenerateOrderID(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGenerateOrderID, req, opts...)
}

// Allocate 分配取餐号
func (c *DisplayNumberServiceClient) Allocate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAllocate, req, opts...)
}

// Release 释放取餐号
func (c *DisplayNumberServiceClient) Release(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRelease, req, opts...)
}

// GetSlotStats 号码池统计
func (c *DisplayNumberServiceClient) GetSlotStats(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSlotStats, req, opts...)
}
