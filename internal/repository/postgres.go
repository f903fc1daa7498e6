// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/artbooking-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSlotTaken возвращается, если интервал бронирования пересекается с уже
// существующим бронированием той же услуги.
var (
	ErrSlotTaken = errors.New("time slot is already booked for this service")
	// ErrUserNotFound возвращается, если пользователь не найден или удалён.
	ErrUserNotFound = errors.New("user not found")
	// ErrServiceNotFound возвращается, если услуга не найдена или удалена.
	ErrServiceNotFound = errors.New("service not found")
	// ErrBookingNotFound возвращается, если бронирование не найдено или удалено.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrTierNotFound возвращается, если тариф подписки не найден.
	ErrTierNotFound = errors.New("subscription tier not found")
	// ErrOrderNotFound возвращается, если платёжный ордер не найден.
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrBookingNotEnded возвращается при попытке завершить бронирование
	// до окончания его интервала.
	ErrBookingNotEnded = errors.New("booking has not ended yet")
	// ErrForbidden возвращается, если участник не вправе выполнить переход.
	ErrForbidden = errors.New("actor is not allowed to perform this transition")
	// ErrRatingNotAllowed возвращается, если у клиента нет завершённого
	// бронирования у этого артиста.
	ErrRatingNotAllowed = errors.New("rating requires a completed booking")
	// ErrAmountMismatch возвращается, если сумма обратного вызова не совпадает
	// с суммой сохранённого ордера.
	ErrAmountMismatch = errors.New("callback amount does not match order amount")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlock; с сетевыми
		// обрывами pgxpool обычно справляется сам, но подстрахуемся.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, displayName string, role model.Role) (*model.User, error) {
	u := model.User{
		ID:          uuid.New(),
		DisplayName: displayName,
		Role:        role,
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3) RETURNING created_at`,
		u.ID, u.DisplayName, string(u.Role),
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &u, nil
}

// GetUser возвращает живого (не удалённого) пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, display_name, role, rating_avg, rating_count, created_at
		 FROM users WHERE id = $1 AND NOT deleted`,
		id,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.DisplayName, &role, &u.RatingAvg, &u.RatingCount, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// CreateService создаёт услугу артиста.
func (r *PostgresRepository) CreateService(ctx context.Context, s *model.Service) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = model.ServiceStatusAvailable
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO services (id, artist_id, name, description, price_cents, duration_minutes, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ArtistID, s.Name, s.Description, s.PriceCents, s.DurationMinutes, string(s.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotFound
		}
		return fmt.Errorf("create service: %w", err)
	}

	return nil
}

// GetService возвращает живую услугу по идентификатору.
func (r *PostgresRepository) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, artist_id, name, description, price_cents, duration_minutes, status
		 FROM services WHERE id = $1 AND NOT deleted`,
		id,
	)

	var s model.Service
	var status string
	err := row.Scan(&s.ID, &s.ArtistID, &s.Name, &s.Description, &s.PriceCents, &s.DurationMinutes, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	s.Status = model.ServiceStatus(status)

	return &s, nil
}

// CreateBooking атомарно проверяет услугу и клиента, назначает цену из услуги
// и вставляет бронирование. Пересечение интервалов ловится ограничением
// исключения на уровне БД: конкурирующая вставка того же слота получает
// ErrSlotTaken, а не проходит мимо проверки.
func (r *PostgresRepository) CreateBooking(ctx context.Context, serviceID, customerID uuid.UUID, start, end time.Time) (*model.Booking, error) {
	var b *model.Booking

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var priceCents int64
		err = tx.QueryRow(ctx,
			`SELECT price_cents FROM services WHERE id = $1 AND NOT deleted`,
			serviceID,
		).Scan(&priceCents)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrServiceNotFound
			}
			return fmt.Errorf("select service: %w", err)
		}

		var customerExists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND NOT deleted)`,
			customerID,
		).Scan(&customerExists)
		if err != nil {
			return fmt.Errorf("select customer: %w", err)
		}
		if !customerExists {
			return ErrUserNotFound
		}

		nb := model.Booking{
			ID:         uuid.New(),
			ServiceID:  serviceID,
			CustomerID: customerID,
			StartTime:  start,
			EndTime:    end,
			TotalCents: priceCents,
			Status:     model.BookingStatusPending,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO bookings (id, service_id, customer_id, start_time, end_time, total_cents, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING created_at`,
			nb.ID, nb.ServiceID, nb.CustomerID, nb.StartTime, nb.EndTime, nb.TotalCents, string(nb.Status),
		).Scan(&nb.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ExclusionViolation {
				return ErrSlotTaken
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		b = &nb
		return nil
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// TransitionBooking переводит бронирование в статус target от имени участника p.
// Строка бронирования блокируется на время транзакции, чтобы конкурирующие
// переходы сериализовались; правила легальности и авторизации — в пакете model.
func (r *PostgresRepository) TransitionBooking(ctx context.Context, bookingID uuid.UUID, target model.BookingStatus, p model.Principal) (*model.Booking, error) {
	var b *model.Booking

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		nb, artistID, err := scanBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if !model.CanTransition(nb.Status, target) {
			return ErrInvalidTransition
		}
		if !model.AuthorizeTransition(*nb, artistID, target, p) {
			return ErrForbidden
		}
		if target == model.BookingStatusCompleted && time.Now().Before(nb.EndTime) {
			return ErrBookingNotEnded
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2 WHERE id = $1`,
			bookingID, string(target),
		)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		nb.Status = target
		b = nb
		return nil
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

func scanBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*model.Booking, uuid.UUID, error) {
	row := tx.QueryRow(ctx,
		`SELECT b.id, b.service_id, b.customer_id, b.start_time, b.end_time,
		        b.total_cents, b.deposit_cents, b.deposit_paid, b.status, b.created_at,
		        s.artist_id
		 FROM bookings b
		 JOIN services s ON s.id = b.service_id
		 WHERE b.id = $1 AND NOT b.deleted
		 FOR UPDATE OF b`,
		bookingID,
	)

	var b model.Booking
	var status string
	var artistID uuid.UUID
	err := row.Scan(&b.ID, &b.ServiceID, &b.CustomerID, &b.StartTime, &b.EndTime,
		&b.TotalCents, &b.DepositCents, &b.DepositPaid, &status, &b.CreatedAt, &artistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, uuid.Nil, ErrBookingNotFound
		}
		return nil, uuid.Nil, fmt.Errorf("select booking for update: %w", err)
	}
	b.Status = model.BookingStatus(status)

	return &b, artistID, nil
}

// GetBooking возвращает живое бронирование по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, service_id, customer_id, start_time, end_time,
		        total_cents, deposit_cents, deposit_paid, status, created_at
		 FROM bookings WHERE id = $1 AND NOT deleted`,
		id,
	)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	return b, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(&b.ID, &b.ServiceID, &b.CustomerID, &b.StartTime, &b.EndTime,
		&b.TotalCents, &b.DepositCents, &b.DepositPaid, &status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}

// BookingFilter описывает фильтры выборки бронирований.
type BookingFilter struct {
	CustomerID *uuid.UUID
	ArtistID   *uuid.UUID
	Status     *model.BookingStatus
	From       *time.Time
	To         *time.Time
}

// ListBookings возвращает живые бронирования по фильтру, свежие первыми.
func (r *PostgresRepository) ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx,
		`SELECT b.id, b.service_id, b.customer_id, b.start_time, b.end_time,
		        b.total_cents, b.deposit_cents, b.deposit_paid, b.status, b.created_at
		 FROM bookings b
		 JOIN services s ON s.id = b.service_id
		 WHERE NOT b.deleted
		   AND ($1::uuid IS NULL OR b.customer_id = $1)
		   AND ($2::uuid IS NULL OR s.artist_id = $2)
		   AND ($3::text IS NULL OR b.status = $3)
		   AND ($4::timestamptz IS NULL OR b.start_time >= $4)
		   AND ($5::timestamptz IS NULL OR b.end_time <= $5)
		 ORDER BY b.created_at DESC`,
		f.CustomerID, f.ArtistID, status, f.From, f.To,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// BookingsForService возвращает не отменённые бронирования услуги,
// затрагивающие окно [from, to). Выборка справочная: решающая проверка
// пересечений выполняется ограничением БД при вставке.
func (r *PostgresRepository) BookingsForService(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, service_id, customer_id, start_time, end_time,
		        total_cents, deposit_cents, deposit_paid, status, created_at
		 FROM bookings
		 WHERE service_id = $1 AND NOT deleted AND status <> $2
		   AND start_time < $4 AND end_time > $3
		 ORDER BY start_time`,
		serviceID, string(model.BookingStatusCanceled), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select service bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
