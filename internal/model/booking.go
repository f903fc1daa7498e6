package model

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCanceled  BookingStatus = "CANCELED"
)

// Booking представляет бронирование услуги клиентом.
// Интервал [StartTime, EndTime) полуоткрытый: совпадение конца одного
// бронирования с началом другого конфликтом не считается.
type Booking struct {
	ID           uuid.UUID
	ServiceID    uuid.UUID
	CustomerID   uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	TotalCents   int64
	DepositCents int64
	DepositPaid  bool
	Status       BookingStatus
	CreatedAt    time.Time
	Deleted      bool
}

// Overlaps сообщает, пересекается ли бронирование с интервалом [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.EndTime) && end.After(b.StartTime)
}

// IsTerminal сообщает, является ли статус финальным.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCanceled
}

// CanTransition проверяет допустимость перехода статуса бронирования.
// Разрешены только Pending→Confirmed, Confirmed→Completed и отмена
// из Pending или Confirmed.
func CanTransition(from, to BookingStatus) bool {
	switch to {
	case BookingStatusConfirmed:
		return from == BookingStatusPending
	case BookingStatusCompleted:
		return from == BookingStatusConfirmed
	case BookingStatusCanceled:
		return from == BookingStatusPending || from == BookingStatusConfirmed
	default:
		return false
	}
}

// AuthorizeTransition проверяет право участника перевести бронирование в target.
// Подтверждает только артист услуги; отменить может клиент бронирования или
// артист услуги; завершает артист услуги или администратор.
func AuthorizeTransition(b Booking, artistID uuid.UUID, target BookingStatus, p Principal) bool {
	switch target {
	case BookingStatusConfirmed:
		return p.ID == artistID
	case BookingStatusCanceled:
		return p.ID == b.CustomerID || p.ID == artistID
	case BookingStatusCompleted:
		return p.ID == artistID || p.Role == RoleAdmin
	default:
		return false
	}
}

// ApplyRating пересчитывает среднюю оценку артиста при добавлении или
// изменении одной оценки. prev == nil означает новую оценку: счётчик растёт
// на единицу. При повторной оценке той же пары счётчик не меняется, из
// среднего вычитается прежний балл.
func ApplyRating(mean float64, count int64, score float64, prev *float64) (float64, int64) {
	if prev == nil {
		newCount := count + 1
		return (mean*float64(count) + score) / float64(newCount), newCount
	}
	if count == 0 {
		// Повторная оценка при пустом агрегате невозможна при корректных данных.
		return score, 1
	}
	return (mean*float64(count) - *prev + score) / float64(count), count
}
