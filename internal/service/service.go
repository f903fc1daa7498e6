// Package service реализует бизнес-логику сервиса бронирования артистов.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/artbooking-system/internal/model"
	"github.com/mmeshcher/artbooking-system/internal/repository"
	"github.com/mmeshcher/artbooking-system/internal/validation"
	"github.com/mmeshcher/artbooking-system/internal/vnpay"
)

// ErrInvalidInterval возвращается при некорректном интервале бронирования.
var (
	ErrInvalidInterval = errors.New("booking interval is invalid")
	// ErrInvalidScore возвращается при оценке вне диапазона [0, 5].
	ErrInvalidScore = errors.New("rating score must be between 0 and 5")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	CreateUser(ctx context.Context, displayName string, role model.Role) (*model.User, error)
	CreateService(ctx context.Context, s *model.Service) error
	GetService(ctx context.Context, id uuid.UUID) (*model.Service, error)
	CreateBooking(ctx context.Context, serviceID, customerID uuid.UUID, start, end time.Time) (*model.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	TransitionBooking(ctx context.Context, bookingID uuid.UUID, target model.BookingStatus, p model.Principal) (*model.Booking, error)
	ListBookings(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error)
	BookingsForService(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]model.Booking, error)
	SubmitRating(ctx context.Context, artistID, customerID uuid.UUID, score float64, comment string) (*model.ArtistRating, error)
	ArtistRating(ctx context.Context, artistID uuid.UUID) (*model.ArtistRating, error)
	CreatePaymentOrder(ctx context.Context, o *model.PaymentOrder) error
	GetPaymentOrder(ctx context.Context, txnRef string) (*model.PaymentOrder, error)
	ActivateOrder(ctx context.Context, txnRef string, amountCents int64) error
	MarkOrderFailed(ctx context.Context, txnRef string) error
	StalePendingOrders(ctx context.Context, moment time.Time, limit int) ([]model.PaymentOrder, error)
	ExpireOrder(ctx context.Context, txnRef string) (bool, error)
	AddTier(ctx context.Context, t *model.SubscriptionTier) error
	ListTiers(ctx context.Context) ([]model.SubscriptionTier, error)
	GetTier(ctx context.Context, id uuid.UUID) (*model.SubscriptionTier, error)
	CreateSubscriptionOrder(ctx context.Context, sub *model.Subscription, o *model.PaymentOrder) error
}

// PaymentGateway описывает контракт адаптера платёжного шлюза.
type PaymentGateway interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (*vnpay.PaymentLink, error)
	ParseCallback(values url.Values) (*vnpay.CallbackResult, error)
}

// GatewayQuerier описывает контракт запроса состояния транзакции у шлюза.
type GatewayQuerier interface {
	TransactionStatus(ctx context.Context, txnRef string, createdAt time.Time) (*vnpay.TxnStatus, error)
}

// Service содержит бизнес-логику сервиса бронирования артистов.
type Service struct {
	repo    Repository
	gateway PaymentGateway
	querier GatewayQuerier
	logger  *zap.Logger
}

// NewService создаёт новый сервис. querier может быть nil: тогда просроченные
// ордера закрываются без сверки со шлюзом.
func NewService(repo Repository, gateway PaymentGateway, querier GatewayQuerier, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		querier: querier,
		logger:  logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateBooking создаёт бронирование услуги клиентом. Цена берётся из услуги,
// а не из запроса; конфликт интервалов определяется хранилищем атомарно
// с вставкой.
func (s *Service) CreateBooking(ctx context.Context, serviceID, customerID uuid.UUID, start, end time.Time) (*model.Booking, error) {
	if !validation.IsValidInterval(start, end) {
		return nil, ErrInvalidInterval
	}
	return s.repo.CreateBooking(ctx, serviceID, customerID, start, end)
}

// TransitionBooking переводит бронирование в новый статус от имени участника.
func (s *Service) TransitionBooking(ctx context.Context, bookingID uuid.UUID, target model.BookingStatus, p model.Principal) (*model.Booking, error) {
	switch target {
	case model.BookingStatusConfirmed, model.BookingStatusCompleted, model.BookingStatusCanceled:
	default:
		return nil, repository.ErrInvalidTransition
	}
	return s.repo.TransitionBooking(ctx, bookingID, target, p)
}

// ListBookings возвращает бронирования по фильтру.
func (s *Service) ListBookings(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error) {
	return s.repo.ListBookings(ctx, f)
}

// CheckAvailability сообщает, свободен ли интервал [start, end) у услуги.
// Проверка справочная: окончательное слово за ограничением БД при создании
// бронирования.
func (s *Service) CheckAvailability(ctx context.Context, serviceID uuid.UUID, start, end time.Time) (bool, error) {
	if !validation.IsValidInterval(start, end) {
		return false, ErrInvalidInterval
	}

	if _, err := s.repo.GetService(ctx, serviceID); err != nil {
		return false, err
	}

	dayStart := start.Truncate(24 * time.Hour)
	dayEnd := end.Truncate(24 * time.Hour).Add(24 * time.Hour)

	bookings, err := s.repo.BookingsForService(ctx, serviceID, dayStart, dayEnd)
	if err != nil {
		return false, err
	}

	for _, b := range bookings {
		if b.Status != model.BookingStatusCanceled && b.Overlaps(start, end) {
			return false, nil
		}
	}

	return true, nil
}

// SubmitRating сохраняет оценку артиста клиентом и возвращает новый агрегат.
func (s *Service) SubmitRating(ctx context.Context, artistID, customerID uuid.UUID, score float64, comment string) (*model.ArtistRating, error) {
	if !validation.IsValidScore(score) {
		return nil, ErrInvalidScore
	}
	return s.repo.SubmitRating(ctx, artistID, customerID, score, comment)
}

// ArtistRating возвращает агрегированную оценку артиста.
func (s *Service) ArtistRating(ctx context.Context, artistID uuid.UUID) (*model.ArtistRating, error) {
	return s.repo.ArtistRating(ctx, artistID)
}

// RegisterUser создаёт пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, displayName string, role model.Role) (*model.User, error) {
	if displayName == "" {
		return nil, fmt.Errorf("display name must not be empty")
	}
	switch role {
	case model.RoleCustomer, model.RoleArtist, model.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return s.repo.CreateUser(ctx, displayName, role)
}

// RegisterTier создаёт тариф подписки.
func (s *Service) RegisterTier(ctx context.Context, name string, priceCents int64, durationDays int) (*model.SubscriptionTier, error) {
	if name == "" || priceCents <= 0 || durationDays <= 0 {
		return nil, fmt.Errorf("invalid tier parameters")
	}

	t := &model.SubscriptionTier{
		Name:         name,
		PriceCents:   priceCents,
		DurationDays: durationDays,
	}
	if err := s.repo.AddTier(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

// ListTiers возвращает доступные тарифы подписки.
func (s *Service) ListTiers(ctx context.Context) ([]model.SubscriptionTier, error) {
	return s.repo.ListTiers(ctx)
}

// RegisterService создаёт услугу от имени артиста.
func (s *Service) RegisterService(ctx context.Context, artistID uuid.UUID, name, description string, priceCents int64, durationMinutes int) (*model.Service, error) {
	if name == "" || priceCents < 0 || durationMinutes <= 0 {
		return nil, fmt.Errorf("invalid service parameters")
	}

	svc := &model.Service{
		ArtistID:        artistID,
		Name:            name,
		Description:     description,
		PriceCents:      priceCents,
		DurationMinutes: durationMinutes,
	}
	if err := s.repo.CreateService(ctx, svc); err != nil {
		return nil, err
	}

	return svc, nil
}
