package domain

import "time"

// TimelineEvent описывает шаг в жизни checkout-сессии.
type TimelineEvent struct {
	SessionID string
	Type      string
	Reason    string
	Occurred  time.Time
}

// Типы событий timeline.
const (
	TimelineSessionOpened         = "SessionOpened"
	TimelineOrderMaterialized     = "OrderMaterialized"
	TimelineSettlementDuplicate   = "SettlementDuplicate"
	TimelineSettlementCartMissing = "SettlementCartMissing"
	TimelineSettlementNeedsReview = "SettlementNeedsReview"
	TimelineSessionExpired        = "SessionExpired"
	TimelinePaymentFailed         = "PaymentFailed"
)
