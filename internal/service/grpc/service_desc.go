package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName — полное имя gRPC-сервиса checkout.
const ServiceName = "storefront.checkout.v1.CheckoutService"

const (
	MethodCreateCheckoutSession = "/" + ServiceName + "/CreateCheckoutSession"
	MethodGetSettlementStatus   = "/" + ServiceName + "/GetSettlementStatus"
	MethodListOrders            = "/" + ServiceName + "/ListOrders"
	MethodGetOrder              = "/" + ServiceName + "/GetOrder"
)

// CheckoutServiceServer — серверная сторона сервиса. Сообщения — well-known types protobuf,
// поэтому сервис не требует сгенерированного кода; контракт в proto/storefront/checkout/v1/checkout.proto.
type CheckoutServiceServer interface {
	CreateCheckoutSession(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSettlementStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListOrders(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	GetOrder(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterCheckoutServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterCheckoutServiceServer(s grpc.ServiceRegistrar, srv CheckoutServiceServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

// CheckoutServiceDesc описывает методы сервиса для grpc.Server.
var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckoutServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateCheckoutSession", Handler: createCheckoutSessionHandler},
		{MethodName: "GetSettlementStatus", Handler: getSettlementStatusHandler},
		{MethodName: "ListOrders", Handler: listOrdersHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/checkout/v1/checkout.proto",
}

func createCheckoutSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).CreateCheckoutSession(ctx, req.(*emptypb.Empty))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCreateCheckoutSession}, call)
}

func getSettlementStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).GetSettlementStatus(ctx, req.(*wrapperspb.StringValue))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetSettlementStatus}, call)
}

func listOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).ListOrders(ctx, req.(*wrapperspb.Int32Value))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListOrders}, call)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).GetOrder(ctx, req.(*wrapperspb.StringValue))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetOrder}, call)
}

// CheckoutServiceClient — клиент сервиса поверх любого grpc.ClientConnInterface.
type CheckoutServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCheckoutServiceClient создаёт клиента.
func NewCheckoutServiceClient(cc grpc.ClientConnInterface) *CheckoutServiceClient {
	return &CheckoutServiceClient{cc: cc}
}

// CreateCheckoutSession создаёт сессию для пользователя из метаданных authorization.
func (c *CheckoutServiceClient) CreateCheckoutSession(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodCreateCheckoutSession, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSettlementStatus сверяет сессию.
func (c *CheckoutServiceClient) GetSettlementStatus(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetSettlementStatus, wrapperspb.String(sessionID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOrders возвращает заказы пользователя.
func (c *CheckoutServiceClient) ListOrders(ctx context.Context, limit int32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodListOrders, wrapperspb.Int32(limit), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder возвращает заказ пользователя с timeline.
func (c *CheckoutServiceClient) GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetOrder, wrapperspb.String(orderID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
