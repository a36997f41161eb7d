package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartRepository — корзины и каталог товаров в PostgreSQL.
type CartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) *CartRepository {
	return &CartRepository{db: store.DB()}
}

func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.getOne(ctx, `
		SELECT id, user_id, pending_session_id, pending_session_at, updated_at
		FROM carts WHERE user_id = $1
	`, userID)
}

func (r *CartRepository) FindByPendingSession(ctx context.Context, sessionID string) (domain.Cart, error) {
	return r.getOne(ctx, `
		SELECT id, user_id, pending_session_id, pending_session_at, updated_at
		FROM carts WHERE pending_session_id = $1
	`, sessionID)
}

func (r *CartRepository) SetPendingSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE carts
		SET pending_session_id = $2,
		    pending_session_at = $3,
		    updated_at = $3
		WHERE user_id = $1
	`, userID, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("set pending session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for pending session: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *CartRepository) ClearPendingSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE carts
		SET pending_session_id = NULL,
		    pending_session_at = NULL
		WHERE user_id = $1 AND pending_session_id = $2
	`, userID, sessionID); err != nil {
		return fmt.Errorf("clear pending session: %w", err)
	}
	return nil
}

func (r *CartRepository) ListPendingSessions(ctx context.Context, olderThan time.Time, limit int) ([]domain.PendingSession, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, id, pending_session_id, pending_session_at
		FROM carts
		WHERE pending_session_id IS NOT NULL AND pending_session_at <= $1
		ORDER BY pending_session_at
		LIMIT $2
	`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PendingSession, 0)
	for rows.Next() {
		var p domain.PendingSession
		if err := rows.Scan(&p.UserID, &p.CartID, &p.SessionID, &p.Since); err != nil {
			return nil, fmt.Errorf("scan pending session: %w", err)
		}
		p.Since = p.Since.UTC()
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sessions: %w", err)
	}
	return result, nil
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// SaveCart заменяет корзину пользователя целиком. Используется сидированием и тестами.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (_ domain.Cart, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, cart.UserID); err != nil {
		return domain.Cart{}, fmt.Errorf("replace cart: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, pending_session_id, pending_session_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, cart.ID, cart.UserID, cart.PendingSessionID, nullTime(cart.PendingSessionAt), cart.UpdatedAt); err != nil {
		return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
	}
	for i, item := range cart.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, position, product_id, quantity) VALUES ($1, $2, $3, $4)
		`, cart.ID, i, item.ProductID, item.Quantity); err != nil {
			return domain.Cart{}, fmt.Errorf("insert cart item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Cart{}, fmt.Errorf("commit cart: %w", err)
	}
	return cart, nil
}

// UpsertProduct сохраняет товар каталога. Пустая цена записывается как NULL.
func (r *CartRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	images, err := json.Marshal(append([]string{}, product.Images...))
	if err != nil {
		return fmt.Errorf("encode product images: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, short_desc, images, updated_at)
		VALUES ($1, $2, NULLIF($3, '')::numeric, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    short_desc = EXCLUDED.short_desc,
		    images = EXCLUDED.images,
		    updated_at = NOW()
	`, product.ID, product.Name, product.Price, product.ShortDesc, images); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *CartRepository) getOne(ctx context.Context, query, arg string) (domain.Cart, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		cart      domain.Cart
		pendingID sql.NullString
		pendingAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&cart.ID, &cart.UserID, &pendingID, &pendingAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	cart.PendingSessionID = pendingID.String
	if pendingAt.Valid {
		cart.PendingSessionAt = pendingAt.Time.UTC()
	}
	cart.UpdatedAt = cart.UpdatedAt.UTC()

	cart.Items, err = r.loadItems(ctx, cart.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// loadItems читает позиции вместе с товарами; удалённый товар даёт позицию с Product == nil.
func (r *CartRepository) loadItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.product_id, ci.quantity, p.id, p.name, p.price::text, p.short_desc, p.images
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.position
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var (
			item            domain.CartItem
			id, name, price sql.NullString
			shortDesc       sql.NullString
			images          []byte
		)
		if err := rows.Scan(&item.ProductID, &item.Quantity, &id, &name, &price, &shortDesc, &images); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if id.Valid {
			product := &domain.Product{
				ID:        id.String,
				Name:      name.String,
				Price:     price.String,
				ShortDesc: shortDesc.String,
			}
			if len(images) > 0 {
				if err := json.Unmarshal(images, &product.Images); err != nil {
					return nil, fmt.Errorf("decode product images: %w", err)
				}
			}
			item.Product = product
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

var _ domain.CartRepository = (*CartRepository)(nil)
