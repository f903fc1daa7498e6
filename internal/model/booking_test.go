package model

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	statuses := []BookingStatus{
		BookingStatusPending,
		BookingStatusConfirmed,
		BookingStatusCompleted,
		BookingStatusCanceled,
	}

	allowed := map[[2]BookingStatus]bool{
		{BookingStatusPending, BookingStatusConfirmed}:   true,
		{BookingStatusConfirmed, BookingStatusCompleted}: true,
		{BookingStatusPending, BookingStatusCanceled}:    true,
		{BookingStatusConfirmed, BookingStatusCanceled}:  true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]BookingStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []BookingStatus{BookingStatusCompleted, BookingStatusCanceled} {
		if !from.IsTerminal() {
			t.Fatalf("%s must be terminal", from)
		}
		for _, to := range []BookingStatus{BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCanceled} {
			if CanTransition(from, to) {
				t.Errorf("transition out of terminal %s to %s must be forbidden", from, to)
			}
		}
	}
}

func TestAuthorizeTransition(t *testing.T) {
	artistID := uuid.New()
	customerID := uuid.New()
	strangerID := uuid.New()

	b := Booking{CustomerID: customerID}

	tests := []struct {
		name   string
		target BookingStatus
		p      Principal
		want   bool
	}{
		{"artist confirms", BookingStatusConfirmed, Principal{ID: artistID, Role: RoleArtist}, true},
		{"customer cannot confirm", BookingStatusConfirmed, Principal{ID: customerID, Role: RoleCustomer}, false},
		{"customer cancels", BookingStatusCanceled, Principal{ID: customerID, Role: RoleCustomer}, true},
		{"artist cancels", BookingStatusCanceled, Principal{ID: artistID, Role: RoleArtist}, true},
		{"stranger cannot cancel", BookingStatusCanceled, Principal{ID: strangerID, Role: RoleCustomer}, false},
		{"artist completes", BookingStatusCompleted, Principal{ID: artistID, Role: RoleArtist}, true},
		{"admin completes", BookingStatusCompleted, Principal{ID: strangerID, Role: RoleAdmin}, true},
		{"customer cannot complete", BookingStatusCompleted, Principal{ID: customerID, Role: RoleCustomer}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AuthorizeTransition(b, artistID, tt.target, tt.p)
			if got != tt.want {
				t.Fatalf("AuthorizeTransition(%s) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestBookingOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b := Booking{
		StartTime: base,
		EndTime:   base.Add(time.Hour),
	}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"identical interval", base, base.Add(time.Hour), true},
		{"contained interval", base.Add(15 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps start", base.Add(-30 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps end", base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		{"adjacent before", base.Add(-time.Hour), base, false},
		{"adjacent after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"far before", base.Add(-3 * time.Hour), base.Add(-2 * time.Hour), false},
		{"far after", base.Add(2 * time.Hour), base.Add(3 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Overlaps(tt.start, tt.end); got != tt.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestOrderKindKnown(t *testing.T) {
	if !OrderKindBooking.Known() || !OrderKindSubscription.Known() {
		t.Fatalf("booking and subscription kinds must be known")
	}
	for _, k := range []OrderKind{"", "refund", "BOOKING"} {
		if k.Known() {
			t.Fatalf("kind %q must not be known", k)
		}
	}
}

func TestApplyRating_NewScores(t *testing.T) {
	mean, count := 0.0, int64(0)

	for _, score := range []float64{5, 3, 4} {
		mean, count = ApplyRating(mean, count, score, nil)
	}

	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if math.Abs(mean-4.0) > 1e-9 {
		t.Fatalf("mean = %v, want 4.0", mean)
	}
}

func TestApplyRating_Resubmission(t *testing.T) {
	// Две оценки: 5 и 3. Клиент меняет тройку на четвёрку.
	mean, count := 4.0, int64(2)
	prev := 3.0

	mean, count = ApplyRating(mean, count, 4, &prev)

	if count != 2 {
		t.Fatalf("count = %d, want 2 (resubmission must not grow count)", count)
	}
	if math.Abs(mean-4.5) > 1e-9 {
		t.Fatalf("mean = %v, want 4.5", mean)
	}
}

func TestApplyRating_ResubmissionSameScoreIsNoop(t *testing.T) {
	mean, count := 4.2, int64(5)
	prev := 4.2

	newMean, newCount := ApplyRating(mean, count, 4.2, &prev)

	if newCount != count {
		t.Fatalf("count = %d, want %d", newCount, count)
	}
	if math.Abs(newMean-mean) > 1e-9 {
		t.Fatalf("mean = %v, want %v", newMean, mean)
	}
}
