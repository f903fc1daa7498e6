package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/artbooking-system/internal/model"
)

// SubmitRating сохраняет или обновляет оценку артиста клиентом и пересчитывает
// агрегат. Строка артиста блокируется на время транзакции: конкурирующие оценки
// одного артиста сериализуются, и агрегат никогда не пишется по устаревшей
// паре (среднее, счётчик). Клиент должен иметь завершённое бронирование
// у этого артиста.
func (r *PostgresRepository) SubmitRating(ctx context.Context, artistID, customerID uuid.UUID, score float64, comment string) (*model.ArtistRating, error) {
	var agg *model.ArtistRating

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var mean float64
		var count int64
		err = tx.QueryRow(ctx,
			`SELECT rating_avg, rating_count FROM users
			 WHERE id = $1 AND role = $2 AND NOT deleted
			 FOR UPDATE`,
			artistID, string(model.RoleArtist),
		).Scan(&mean, &count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock artist row: %w", err)
		}

		var eligible bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM bookings b
			     JOIN services s ON s.id = b.service_id
			     WHERE b.customer_id = $2 AND s.artist_id = $1
			       AND b.status = $3 AND NOT b.deleted
			 )`,
			artistID, customerID, string(model.BookingStatusCompleted),
		).Scan(&eligible)
		if err != nil {
			return fmt.Errorf("check rating eligibility: %w", err)
		}
		if !eligible {
			return ErrRatingNotAllowed
		}

		var prev *float64
		err = tx.QueryRow(ctx,
			`SELECT score FROM ratings WHERE artist_id = $1 AND customer_id = $2`,
			artistID, customerID,
		).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("select previous rating: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ratings (artist_id, customer_id, score, comment)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (artist_id, customer_id)
			 DO UPDATE SET score = EXCLUDED.score, comment = EXCLUDED.comment, rated_at = now()`,
			artistID, customerID, score, comment,
		)
		if err != nil {
			return fmt.Errorf("upsert rating: %w", err)
		}

		newMean, newCount := model.ApplyRating(mean, count, score, prev)

		_, err = tx.Exec(ctx,
			`UPDATE users SET rating_avg = $2, rating_count = $3 WHERE id = $1`,
			artistID, newMean, newCount,
		)
		if err != nil {
			return fmt.Errorf("update artist aggregate: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		agg = &model.ArtistRating{Average: newMean, Count: newCount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return agg, nil
}

// ArtistRating возвращает агрегированную оценку артиста.
func (r *PostgresRepository) ArtistRating(ctx context.Context, artistID uuid.UUID) (*model.ArtistRating, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT rating_avg, rating_count FROM users
		 WHERE id = $1 AND role = $2 AND NOT deleted`,
		artistID, string(model.RoleArtist),
	)

	var agg model.ArtistRating
	if err := row.Scan(&agg.Average, &agg.Count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get artist rating: %w", err)
	}

	return &agg, nil
}
