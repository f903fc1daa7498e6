package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/artbooking-system/internal/model"
	"github.com/mmeshcher/artbooking-system/internal/repository"
	"github.com/mmeshcher/artbooking-system/internal/vnpay"
)

// CreateBookingPayment строит платёжную ссылку для оплаты бронирования.
// Ожидающий ордер фиксируется в хранилище до возврата ссылки: обратный вызов
// найдёт корреляцию, даже если ответ клиенту потеряется.
func (s *Service) CreateBookingPayment(ctx context.Context, bookingID uuid.UUID, p model.Principal, clientIP string) (*vnpay.PaymentLink, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if p.ID != b.CustomerID {
		return nil, repository.ErrForbidden
	}
	if b.Status == model.BookingStatusCanceled {
		return nil, repository.ErrInvalidTransition
	}

	amount := b.TotalCents
	if b.DepositCents > 0 {
		amount = b.DepositCents
	}

	link, err := s.gateway.BuildPaymentURL(vnpay.PaymentRequest{
		AmountCents: amount,
		OrderInfo:   "booking " + b.ID.String(),
		ClientIP:    clientIP,
	})
	if err != nil {
		return nil, err
	}

	order := &model.PaymentOrder{
		TxnRef:      link.TxnRef,
		Kind:        model.OrderKindBooking,
		TargetID:    b.ID,
		AmountCents: amount,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}
	if err := s.repo.CreatePaymentOrder(ctx, order); err != nil {
		return nil, err
	}

	return link, nil
}

// CreateSubscriptionPayment создаёт неактивную подписку на тариф и платёжную
// ссылку для её оплаты. Подписка активируется только обратным вызовом шлюза.
func (s *Service) CreateSubscriptionPayment(ctx context.Context, tierID uuid.UUID, p model.Principal, clientIP string) (*vnpay.PaymentLink, error) {
	tier, err := s.repo.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUser(ctx, p.ID); err != nil {
		return nil, err
	}

	link, err := s.gateway.BuildPaymentURL(vnpay.PaymentRequest{
		AmountCents: tier.PriceCents,
		OrderInfo:   "subscription " + tier.Name,
		ClientIP:    clientIP,
	})
	if err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		UserID:   p.ID,
		TierID:   tierID,
		StartsAt: link.CreatedAt,
		EndsAt:   link.CreatedAt.AddDate(0, 0, tier.DurationDays),
	}
	order := &model.PaymentOrder{
		TxnRef:      link.TxnRef,
		Kind:        model.OrderKindSubscription,
		AmountCents: tier.PriceCents,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}

	// Подписка и ордер пишутся одной транзакцией: частичной записи не бывает.
	if err := s.repo.CreateSubscriptionOrder(ctx, sub, order); err != nil {
		return nil, err
	}

	return link, nil
}

// ProcessCallback обрабатывает обратный вызов шлюза. Невалидная подпись —
// окончательный отказ независимо от кода ответа; несовпадение суммы с
// сохранённым ордером — отказ даже при валидной подписи. Повторная доставка
// уже активированного ордера безвредна.
func (s *Service) ProcessCallback(ctx context.Context, values url.Values) (*vnpay.CallbackResult, error) {
	res, err := s.gateway.ParseCallback(values)
	if err != nil {
		// Неполный набор полей — ошибка валидации, не подписи.
		s.logger.Warn("malformed gateway callback", zap.Error(err))
		return nil, err
	}

	if !res.SignatureValid {
		s.logger.Warn("gateway callback signature invalid",
			zap.String("txnRef", res.TxnRef),
			zap.String("responseCode", res.ResponseCode))
		return res, nil
	}

	if !res.Success {
		if err := s.repo.MarkOrderFailed(ctx, res.TxnRef); err != nil {
			s.logger.Error("mark order failed", zap.Error(err), zap.String("txnRef", res.TxnRef))
		}
		return res, nil
	}

	if err := s.repo.ActivateOrder(ctx, res.TxnRef, res.AmountCents); err != nil {
		res.Success = false
		if errors.Is(err, repository.ErrAmountMismatch) {
			s.logger.Warn("gateway callback amount mismatch",
				zap.String("txnRef", res.TxnRef),
				zap.Int64("amountCents", res.AmountCents))
			return res, nil
		}
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("gateway callback for unknown order", zap.String("txnRef", res.TxnRef))
			return res, nil
		}
		return nil, err
	}

	return res, nil
}

// StartOrderReaper запускает фоновый процесс закрытия просроченных ордеров.
// Перед закрытием судьба транзакции по возможности сверяется со шлюзом:
// ордер, оплата которого прошла без обратного вызова, активируется.
func (s *Service) StartOrderReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapStaleOrders(ctx)
			}
		}
	}()
}

func (s *Service) reapStaleOrders(ctx context.Context) {
	orders, err := s.repo.StalePendingOrders(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Error("select stale orders", zap.Error(err))
		return
	}

	for _, o := range orders {
		if s.querier != nil {
			st, err := s.querier.TransactionStatus(ctx, o.TxnRef, o.CreatedAt)
			if err == nil && st.Paid() {
				amount, err := st.AmountCents()
				if err == nil {
					if err := s.repo.ActivateOrder(ctx, o.TxnRef, amount); err == nil {
						s.logger.Info("stale order recovered as paid", zap.String("txnRef", o.TxnRef))
						continue
					}
				}
			}
		}

		expired, err := s.repo.ExpireOrder(ctx, o.TxnRef)
		if err != nil {
			s.logger.Error("expire order", zap.Error(err), zap.String("txnRef", o.TxnRef))
			continue
		}
		if expired {
			s.logger.Info("pending order expired", zap.String("txnRef", o.TxnRef))
		}
	}
}
