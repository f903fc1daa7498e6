// Package validation содержит функции валидации входных данных.
package validation

import "time"

// IsValidInterval проверяет, что интервал бронирования непустой и начало
// строго раньше конца.
func IsValidInterval(start, end time.Time) bool {
	if start.IsZero() || end.IsZero() {
		return false
	}
	return start.Before(end)
}

// IsValidScore проверяет, что оценка артиста лежит в диапазоне [0, 5].
func IsValidScore(score float64) bool {
	return score >= 0 && score <= 5
}
