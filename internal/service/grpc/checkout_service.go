package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// Checkout — операции checkout, которые использует gRPC-слой.
type Checkout interface {
	CreateSession(ctx context.Context, in checkout.CreateSessionInput) (checkout.SessionStart, error)
	GetStatus(ctx context.Context, sessionID, callerUserID string) (checkout.Settlement, error)
	Timeline(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error)
}

// CheckoutService реализует CheckoutServiceServer.
type CheckoutService struct {
	checkout Checkout
	orders   domain.OrderRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

const (
	defaultListOrdersLimit = 20
	maxListOrdersLimit     = 100
)

// NewCheckoutService конструирует сервис с зависимостями.
func NewCheckoutService(
	svc Checkout,
	orders domain.OrderRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *CheckoutService {
	if logger == nil {
		logger = log.New().WithField("component", "checkout-grpc")
	}
	return &CheckoutService{
		checkout: svc,
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateCheckoutSession создаёт checkout-сессию для корзины аутентифицированного пользователя.
// Повтор с тем же idempotency-key возвращает сохранённый ответ.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	return withIdempotency(
		s,
		ctx,
		MethodCreateCheckoutSession+":"+userID,
		req,
		func() *structpb.Struct { return &structpb.Struct{} },
		func(ctx context.Context, idemKey string) (*structpb.Struct, error) {
			start, err := s.checkout.CreateSession(ctx, checkout.CreateSessionInput{UserID: userID, IdempotencyKey: idemKey})
			if err != nil {
				return nil, s.toStatus(err, "CreateCheckoutSession")
			}
			fields := map[string]any{"session_id": start.SessionID}
			if start.Mode == domain.UIModeHosted {
				fields["redirect_url"] = start.RedirectURL
			} else {
				fields["client_secret"] = start.ClientSecret
			}
			return structpb.NewStruct(fields)
		},
	)
}

// GetSettlementStatus возвращает статус оплаты и при необходимости создаёт заказ.
// Вызов без токена допустим: владелец определяется по сессии провайдера.
func (s *CheckoutService) GetSettlementStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req == nil || strings.TrimSpace(req.GetValue()) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}

	settlement, err := s.checkout.GetStatus(ctx, req.GetValue(), auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, s.toStatus(err, "GetSettlementStatus")
	}

	fields := map[string]any{
		"status":         string(settlement.Status),
		"customer_email": settlement.BuyerEmail,
		"session_id":     settlement.SessionID,
		"next_action":    settlement.NextAction,
		"outcome":        string(settlement.Outcome),
	}
	if settlement.OrderID != "" {
		fields["order_id"] = settlement.OrderID
	}
	return structpb.NewStruct(fields)
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *CheckoutService) ListOrders(ctx context.Context, req *wrapperspb.Int32Value) (*structpb.Struct, error) {
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	limit := int(req.GetValue())
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	limit = min(limit, maxListOrdersLimit)

	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, s.toStatus(err, "ListOrders")
	}

	list := make([]any, 0, len(orders))
	for _, order := range orders {
		list = append(list, orderFields(order, nil))
	}
	return structpb.NewStruct(map[string]any{"orders": list})
}

// GetOrder возвращает заказ пользователя вместе с timeline checkout-сессии.
func (s *CheckoutService) GetOrder(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if req == nil || strings.TrimSpace(req.GetValue()) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.Get(ctx, req.GetValue())
	if err == nil && order.UserID != userID {
		err = domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, s.toStatus(err, "GetOrder")
	}

	events, err := s.checkout.Timeline(ctx, order.PaymentSessionID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to list timeline events")
	}
	return structpb.NewStruct(orderFields(order, events))
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *CheckoutService) toStatus(err error, operation string) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrUpstreamPayment):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrInvalidPricing):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrItemQtyInvalid), errors.Is(err, domain.ErrSessionIDRequired):
		code = codes.InvalidArgument
	case domain.IsNotFound(err):
		code = codes.NotFound
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("checkout call failed")
		return status.Error(codes.Internal, "internal error")
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"code":      code.String(),
	}).Debug("checkout call rejected")
	return status.Error(code, err.Error())
}

func orderFields(order domain.Order, events []domain.TimelineEvent) map[string]any {
	items := make([]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id":  item.ProductID,
			"name":        item.Name,
			"qty":         item.Qty,
			"price_minor": item.PriceMinor,
		})
	}

	fields := map[string]any{
		"id":             order.ID,
		"session_id":     order.PaymentSessionID,
		"payment_status": string(order.PaymentStatus),
		"currency":       order.Currency,
		"amount_minor":   order.AmountMinor,
		"amount":         checkout.FormatMinor(order.AmountMinor),
		"customer_email": order.Buyer.Email,
		"items":          items,
		"created_at":     order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(events) > 0 {
		timeline := make([]any, 0, len(events))
		for _, e := range events {
			timeline = append(timeline, map[string]any{
				"type":      e.Type,
				"reason":    e.Reason,
				"unix_time": e.Occurred.Unix(),
			})
		}
		fields["timeline"] = timeline
	}
	return fields
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Без ключа (или без репозитория) handler вызывается напрямую.
func withIdempotency[T proto.Message](
	s *CheckoutService,
	ctx context.Context,
	method string,
	req proto.Message,
	newResp func() T,
	handler func(ctx context.Context, idemKey string) (T, error),
) (T, error) {
	var zero T

	idemKey := readIdempotencyKey(ctx)
	if s.idemRepo == nil || idemKey == "" {
		return handler(ctx, idemKey)
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx, idemKey)
	if runErr != nil {
		s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		return resp, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func replayIdempotency[T proto.Message](
	s *CheckoutService,
	createErr error,
	record domain.IdempotencyRecord,
	newResp func() T,
) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return zero, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := newResp()
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return zero, decodeIdempotencyFailure(record)
		default:
			return zero, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *CheckoutService) cacheIdempotencySuccess(ctx context.Context, key string, resp proto.Message) error {
	data, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *CheckoutService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// decodeIdempotencyFailure восстанавливает ошибку прошлого запроса. Упавший запрос с тем же
// ключом повторно выполняется репозиторием, поэтому сюда попадают только гонки с повтором.
func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt32(payload.Code); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt32(value int32) (codes.Code, bool) {
	if value < int32(codes.OK) || value > int32(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(idempotencyKeyHeader); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

var _ CheckoutServiceServer = (*CheckoutService)(nil)
