package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	cartsCollection    = "carts"
	productsCollection = "products"
	opTimeout          = 5 * time.Second
)

type cartItemDocument struct {
	ProductID string `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
}

type cartDocument struct {
	ID               string             `bson:"_id"`
	UserID           string             `bson:"user_id"`
	Items            []cartItemDocument `bson:"items"`
	PendingSessionID string             `bson:"pending_session_id,omitempty"`
	PendingSessionAt time.Time          `bson:"pending_session_at,omitempty"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

// productDocument хранит цену как есть: число, строку или decimal128.
type productDocument struct {
	ID        string        `bson:"_id"`
	Name      string        `bson:"name"`
	Price     bson.RawValue `bson:"price"`
	ShortDesc string        `bson:"short_desc"`
	Images    []string      `bson:"images"`
}

// CartRepository читает корзины и товары из MongoDB.
type CartRepository struct {
	carts    *mongo.Collection
	products *mongo.Collection
}

// NewCartRepository создаёт MongoDB-реализацию CartRepository.
func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{
		carts:    db.Collection(cartsCollection),
		products: db.Collection(productsCollection),
	}
}

// CreateIndexes создаёт уникальный индекс по user_id и индекс по привязанной сессии.
func (r *CartRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.carts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "pending_session_id", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{
				"pending_session_id": bson.M{"$exists": true},
			}),
		},
	})
	if err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	return nil
}

func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.findOne(ctx, bson.M{"user_id": userID})
}

func (r *CartRepository) FindByPendingSession(ctx context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return r.findOne(ctx, bson.M{"pending_session_id": sessionID})
}

func (r *CartRepository) SetPendingSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.carts.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"pending_session_id": sessionID,
			"pending_session_at": at.UTC(),
			"updated_at":         at.UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("set pending session: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *CartRepository) ClearPendingSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.carts.UpdateOne(ctx,
		bson.M{"user_id": userID, "pending_session_id": sessionID},
		bson.M{"$unset": bson.M{"pending_session_id": "", "pending_session_at": ""}},
	); err != nil {
		return fmt.Errorf("clear pending session: %w", err)
	}
	return nil
}

func (r *CartRepository) ListPendingSessions(ctx context.Context, olderThan time.Time, limit int) ([]domain.PendingSession, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	cursor, err := r.carts.Find(ctx,
		bson.M{
			"pending_session_id": bson.M{"$exists": true, "$ne": ""},
			"pending_session_at": bson.M{"$lte": olderThan.UTC()},
		},
		options.Find().SetSort(bson.D{{Key: "pending_session_at", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}

	var docs []cartDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pending sessions: %w", err)
	}

	result := make([]domain.PendingSession, 0, len(docs))
	for _, doc := range docs {
		result = append(result, domain.PendingSession{
			UserID:    doc.UserID,
			CartID:    doc.ID,
			SessionID: doc.PendingSessionID,
			Since:     doc.PendingSessionAt.UTC(),
		})
	}
	return result, nil
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.carts.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (r *CartRepository) findOne(ctx context.Context, filter bson.M) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc cartDocument
	if err := r.carts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("find cart: %w", err)
	}

	products, err := r.loadProducts(ctx, doc.Items)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		ID:               doc.ID,
		UserID:           doc.UserID,
		PendingSessionID: doc.PendingSessionID,
		PendingSessionAt: doc.PendingSessionAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
		Items:            make([]domain.CartItem, 0, len(doc.Items)),
	}
	for _, item := range doc.Items {
		ci := domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity}
		if product, ok := products[item.ProductID]; ok {
			ci.Product = &product
		}
		cart.Items = append(cart.Items, ci)
	}
	return cart, nil
}

// loadProducts подтягивает товары корзины одним запросом.
func (r *CartRepository) loadProducts(ctx context.Context, items []cartItemDocument) (map[string]domain.Product, error) {
	if len(items) == 0 {
		return map[string]domain.Product{}, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	cursor, err := r.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find cart products: %w", err)
	}

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode cart products: %w", err)
	}

	result := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		result[doc.ID] = domain.Product{
			ID:        doc.ID,
			Name:      doc.Name,
			Price:     rawPrice(doc.Price),
			ShortDesc: doc.ShortDesc,
			Images:    doc.Images,
		}
	}
	return result, nil
}

// rawPrice переводит цену документа в строку; нечисловые типы дают пустую строку.
func rawPrice(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeDouble:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	case bson.TypeInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case bson.TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case bson.TypeDecimal128:
		return v.Decimal128().String()
	case bson.TypeString:
		return v.StringValue()
	default:
		return ""
	}
}

var _ domain.CartRepository = (*CartRepository)(nil)
