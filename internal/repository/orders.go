package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/artbooking-system/internal/model"
)

// CreatePaymentOrder сохраняет ожидающий оплаты ордер. Запись фиксируется
// до выдачи платёжной ссылки, чтобы обратный вызов нашёл её, даже если
// клиент так и не завершил оплату.
func (r *PostgresRepository) CreatePaymentOrder(ctx context.Context, o *model.PaymentOrder) error {
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_orders (txn_ref, kind, target_id, amount_cents, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.TxnRef, string(o.Kind), o.TargetID, o.AmountCents, string(o.Status), o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment order: %w", err)
	}

	return nil
}

// GetPaymentOrder возвращает ордер по ссылке транзакции шлюза.
func (r *PostgresRepository) GetPaymentOrder(ctx context.Context, txnRef string) (*model.PaymentOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT txn_ref, kind, target_id, amount_cents, status, created_at, expires_at
		 FROM payment_orders WHERE txn_ref = $1`,
		txnRef,
	)

	var o model.PaymentOrder
	var kind, status string
	err := row.Scan(&o.TxnRef, &kind, &o.TargetID, &o.AmountCents, &status, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get payment order: %w", err)
	}
	o.Kind = model.OrderKind(kind)
	o.Status = model.OrderStatus(status)

	return &o, nil
}

// ActivateOrder отмечает ордер оплаченным и активирует его цель: бронированию
// проставляется оплата депозита, подписке — активность. Повторная доставка
// того же обратного вызова — no-op: уже оплаченный ордер не трогается.
// Несовпадение суммы — отказ без изменения состояния, даже при валидной
// подписи.
func (r *PostgresRepository) ActivateOrder(ctx context.Context, txnRef string, amountCents int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var kind, status string
		var targetID uuid.UUID
		var storedAmount int64
		err = tx.QueryRow(ctx,
			`SELECT kind, target_id, amount_cents, status
			 FROM payment_orders WHERE txn_ref = $1
			 FOR UPDATE`,
			txnRef,
		).Scan(&kind, &targetID, &storedAmount, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock payment order: %w", err)
		}

		if model.OrderStatus(status) == model.OrderStatusPaid {
			return tx.Commit(ctx)
		}

		if storedAmount != amountCents {
			return ErrAmountMismatch
		}

		// Ордер неизвестного вида не должен стать оплаченным: откат
		// оставляет его ожидающим до разбирательства.
		if !model.OrderKind(kind).Known() {
			return fmt.Errorf("unknown order kind %q for txn %s", kind, txnRef)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payment_orders SET status = $2 WHERE txn_ref = $1`,
			txnRef, string(model.OrderStatusPaid),
		)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		switch model.OrderKind(kind) {
		case model.OrderKindBooking:
			_, err = tx.Exec(ctx,
				`UPDATE bookings SET deposit_paid = true WHERE id = $1`,
				targetID,
			)
		case model.OrderKindSubscription:
			_, err = tx.Exec(ctx,
				`UPDATE subscriptions SET active = true WHERE id = $1`,
				targetID,
			)
		}
		if err != nil {
			return fmt.Errorf("activate order target: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// MarkOrderFailed отмечает ожидающий ордер неуспешным. Оплаченный ордер
// не трогается.
func (r *PostgresRepository) MarkOrderFailed(ctx context.Context, txnRef string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payment_orders SET status = $2 WHERE txn_ref = $1 AND status = $3`,
		txnRef, string(model.OrderStatusFailed), string(model.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}

	return nil
}

// StalePendingOrders возвращает ожидающие ордера, срок которых истёк к moment.
func (r *PostgresRepository) StalePendingOrders(ctx context.Context, moment time.Time, limit int) ([]model.PaymentOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT txn_ref, kind, target_id, amount_cents, status, created_at, expires_at
		 FROM payment_orders
		 WHERE status = $1 AND expires_at < $2
		 ORDER BY expires_at
		 LIMIT $3`,
		string(model.OrderStatusPending), moment, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", err)
	}
	defer rows.Close()

	var res []model.PaymentOrder
	for rows.Next() {
		var o model.PaymentOrder
		var kind, status string
		if err := rows.Scan(&o.TxnRef, &kind, &o.TargetID, &o.AmountCents, &status, &o.CreatedAt, &o.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Kind = model.OrderKind(kind)
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireOrder переводит ордер в EXPIRED, если он всё ещё ожидает оплаты.
// Возвращает признак того, что ордер действительно был закрыт этим вызовом:
// гонка с пришедшим обратным вызовом решается в пользу оплаты.
func (r *PostgresRepository) ExpireOrder(ctx context.Context, txnRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_orders SET status = $2 WHERE txn_ref = $1 AND status = $3`,
		txnRef, string(model.OrderStatusExpired), string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("expire order: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// AddTier сохраняет новый тариф подписки.
func (r *PostgresRepository) AddTier(ctx context.Context, t *model.SubscriptionTier) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO subscription_tiers (id, name, price_cents, duration_days)
		 VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.PriceCents, t.DurationDays,
	)
	if err != nil {
		return fmt.Errorf("insert tier: %w", err)
	}

	return nil
}

// ListTiers возвращает все тарифы подписки.
func (r *PostgresRepository) ListTiers(ctx context.Context) ([]model.SubscriptionTier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price_cents, duration_days
		 FROM subscription_tiers
		 ORDER BY price_cents`,
	)
	if err != nil {
		return nil, fmt.Errorf("select tiers: %w", err)
	}
	defer rows.Close()

	var res []model.SubscriptionTier
	for rows.Next() {
		var t model.SubscriptionTier
		if err := rows.Scan(&t.ID, &t.Name, &t.PriceCents, &t.DurationDays); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTier возвращает тариф подписки.
func (r *PostgresRepository) GetTier(ctx context.Context, id uuid.UUID) (*model.SubscriptionTier, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, duration_days FROM subscription_tiers WHERE id = $1`,
		id,
	)

	var t model.SubscriptionTier
	if err := row.Scan(&t.ID, &t.Name, &t.PriceCents, &t.DurationDays); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("get tier: %w", err)
	}

	return &t, nil
}

// CreateSubscriptionOrder сохраняет неактивную подписку и её ожидающий оплаты
// ордер одной транзакцией: подписка без ордера никогда не остаётся в базе.
func (r *PostgresRepository) CreateSubscriptionOrder(ctx context.Context, sub *model.Subscription, o *model.PaymentOrder) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	o.TargetID = sub.ID
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (id, user_id, tier_id, starts_at, ends_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.UserID, sub.TierID, sub.StartsAt, sub.EndsAt, sub.Active,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_orders (txn_ref, kind, target_id, amount_cents, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.TxnRef, string(o.Kind), o.TargetID, o.AmountCents, string(o.Status), o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
