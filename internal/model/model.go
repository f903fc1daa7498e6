// Package model содержит доменные сущности сервиса бронирования артистов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role определяет роль участника системы.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleArtist   Role = "artist"
	RoleAdmin    Role = "admin"
)

// Principal описывает аутентифицированного участника запроса.
// Роль фиксируется один раз при входе и передаётся явно во все проверки.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

// User представляет пользователя системы: клиента, артиста или администратора.
type User struct {
	ID          uuid.UUID
	DisplayName string
	Role        Role
	RatingAvg   float64
	RatingCount int64
	Deleted     bool
	CreatedAt   time.Time
}

// ServiceStatus описывает доступность услуги артиста.
type ServiceStatus string

const (
	ServiceStatusUnavailable  ServiceStatus = "UNAVAILABLE"
	ServiceStatusAvailable    ServiceStatus = "AVAILABLE"
	ServiceStatusDiscontinued ServiceStatus = "DISCONTINUED"
)

// Service представляет услугу артиста, которую бронируют клиенты.
type Service struct {
	ID              uuid.UUID
	ArtistID        uuid.UUID
	Name            string
	Description     string
	PriceCents      int64
	DurationMinutes int
	Status          ServiceStatus
	Deleted         bool
}

// Rating описывает одну оценку артиста клиентом.
// На пару (артист, клиент) хранится не более одной живой записи.
type Rating struct {
	ArtistID   uuid.UUID
	CustomerID uuid.UUID
	Score      float64
	Comment    string
	RatedAt    time.Time
}

// ArtistRating содержит агрегированную оценку артиста.
type ArtistRating struct {
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// OrderKind определяет, что оплачивает платёжный ордер.
type OrderKind string

const (
	OrderKindBooking      OrderKind = "booking"
	OrderKindSubscription OrderKind = "subscription"
)

// Known сообщает, что вид ордера известен системе. Ордер неизвестного вида
// нельзя активировать: непонятно, какую цель он оплачивает.
func (k OrderKind) Known() bool {
	switch k {
	case OrderKindBooking, OrderKindSubscription:
		return true
	default:
		return false
	}
}

// OrderStatus описывает состояние платёжного ордера.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusFailed  OrderStatus = "FAILED"
	OrderStatusExpired OrderStatus = "EXPIRED"
)

// PaymentOrder связывает транзакцию платёжного шлюза (vnp_TxnRef)
// с бронированием или подпиской и суммой к оплате.
type PaymentOrder struct {
	TxnRef      string
	Kind        OrderKind
	TargetID    uuid.UUID
	AmountCents int64
	Status      OrderStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SubscriptionTier описывает тариф подписки артиста.
type SubscriptionTier struct {
	ID           uuid.UUID
	Name         string
	PriceCents   int64
	DurationDays int
}

// Subscription описывает подписку пользователя на тариф.
// Подписка становится активной только после подтверждённой оплаты.
type Subscription struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TierID   uuid.UUID
	StartsAt time.Time
	EndsAt   time.Time
	Active   bool
}
