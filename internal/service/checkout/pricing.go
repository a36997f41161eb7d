package checkout

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	maxNameRunes        = 100
	maxDescriptionRunes = 500
	maxImages           = 8
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits переводит цену из хранилища в минимальные единицы: round(price × 100).
// Пустая, нечисловая или дающая не положительное целое цена даёт ErrInvalidPricing.
func ToMinorUnits(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: price is missing", domain.ErrInvalidPricing)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidPricing, raw)
	}

	minor := price.Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: price %q is not positive", domain.ErrInvalidPricing, raw)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: price %q is out of range", domain.ErrInvalidPricing, raw)
	}
	return minor.IntPart(), nil
}

// FormatMinor возвращает сумму в основных единицах с двумя знаками: 3998 -> "39.98".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// truncateRunes обрезает строку до limit символов, не разрывая UTF-8.
func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

func displayName(product *domain.Product) string {
	name := truncateRunes(product.Name, maxNameRunes)
	if name == "" {
		return "Product " + product.ID
	}
	return name
}

// publicImages оставляет только абсолютные http(s) ссылки: провайдер не примет относительные пути.
func publicImages(images []string) []string {
	result := make([]string, 0, len(images))
	for _, raw := range images {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		result = append(result, u.String())
		if len(result) == maxImages {
			break
		}
	}
	return result
}

// pricedItem — позиция корзины после проверки цены и количества.
type pricedItem struct {
	productID   string
	name        string
	description string
	images      []string
	unitAmount  int64
	quantity    int64
}

// priceCart проверяет все позиции корзины; первая ошибка прерывает расчёт.
func priceCart(cart domain.Cart) ([]pricedItem, error) {
	if cart.Empty() {
		return nil, domain.ErrCartEmpty
	}

	items := make([]pricedItem, 0, len(cart.Items))
	var total int64
	for _, item := range cart.Items {
		if item.Quantity <= 0 || int64(item.Quantity) > math.MaxInt32 {
			return nil, fmt.Errorf("%w: product %s", domain.ErrItemQtyInvalid, item.ProductID)
		}
		if item.Product == nil {
			return nil, fmt.Errorf("%w: product %s no longer exists", domain.ErrInvalidPricing, item.ProductID)
		}

		unit, err := ToMinorUnits(item.Product.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		quantity := int64(item.Quantity)
		if unit > math.MaxInt64/quantity || total > math.MaxInt64-unit*quantity {
			return nil, fmt.Errorf("%w: cart total for product %s is out of range", domain.ErrInvalidPricing, item.ProductID)
		}
		total += unit * quantity

		items = append(items, pricedItem{
			productID:   item.ProductID,
			name:        displayName(item.Product),
			description: truncateRunes(item.Product.ShortDesc, maxDescriptionRunes),
			images:      publicImages(item.Product.Images),
			unitAmount:  unit,
			quantity:    quantity,
		})
	}
	return items, nil
}

func toLineItems(items []pricedItem) []domain.LineItem {
	result := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		result = append(result, domain.LineItem{
			Name:        item.name,
			Description: item.description,
			Images:      item.images,
			UnitAmount:  item.unitAmount,
			Quantity:    item.quantity,
		})
	}
	return result
}

// toOrderItems рассчитывает на позиции из priceCart: количество помещается в int32, сумма в int64.
func toOrderItems(items []pricedItem) ([]domain.OrderItem, int64) {
	result := make([]domain.OrderItem, 0, len(items))
	var total int64
	for _, item := range items {
		result = append(result, domain.OrderItem{
			ProductID:  item.productID,
			Name:       item.name,
			Qty:        int32(item.quantity),
			PriceMinor: item.unitAmount,
		})
		total += item.unitAmount * item.quantity
	}
	return result, total
}
