package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/artbooking-system/internal/model"
	"github.com/mmeshcher/artbooking-system/internal/repository"
	"github.com/mmeshcher/artbooking-system/internal/vnpay"
)

type stubRepo struct {
	user    *model.User
	userErr error

	service    *model.Service
	serviceErr error

	booking    *model.Booking
	bookingErr error

	createdBooking *model.Booking
	createErr      error

	transitioned    *model.Booking
	transitionErr   error

	bookings    []model.Booking
	bookingsErr error

	rating    *model.ArtistRating
	ratingErr error

	order    *model.PaymentOrder
	orderErr error

	createdOrders []*model.PaymentOrder

	activateErr   error
	activatedRefs []string

	markFailedRefs []string
	markFailedErr  error

	staleOrders []model.PaymentOrder
	staleErr    error

	expiredRefs []string
	expireErr   error

	tier    *model.SubscriptionTier
	tierErr error

	tiers    []model.SubscriptionTier
	tiersErr error

	addedTiers []*model.SubscriptionTier
	addTierErr error

	createdSubs []*model.Subscription
	subErr      error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) CreateUser(ctx context.Context, displayName string, role model.Role) (*model.User, error) {
	return &model.User{ID: uuid.New(), DisplayName: displayName, Role: role}, nil
}

func (s *stubRepo) CreateService(ctx context.Context, svc *model.Service) error {
	svc.ID = uuid.New()
	return s.serviceErr
}

func (s *stubRepo) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	return s.service, s.serviceErr
}

func (s *stubRepo) CreateBooking(ctx context.Context, serviceID, customerID uuid.UUID, start, end time.Time) (*model.Booking, error) {
	return s.createdBooking, s.createErr
}

func (s *stubRepo) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

func (s *stubRepo) TransitionBooking(ctx context.Context, bookingID uuid.UUID, target model.BookingStatus, p model.Principal) (*model.Booking, error) {
	return s.transitioned, s.transitionErr
}

func (s *stubRepo) ListBookings(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error) {
	return s.bookings, s.bookingsErr
}

func (s *stubRepo) BookingsForService(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]model.Booking, error) {
	return s.bookings, s.bookingsErr
}

func (s *stubRepo) SubmitRating(ctx context.Context, artistID, customerID uuid.UUID, score float64, comment string) (*model.ArtistRating, error) {
	return s.rating, s.ratingErr
}

func (s *stubRepo) ArtistRating(ctx context.Context, artistID uuid.UUID) (*model.ArtistRating, error) {
	return s.rating, s.ratingErr
}

func (s *stubRepo) CreatePaymentOrder(ctx context.Context, o *model.PaymentOrder) error {
	s.createdOrders = append(s.createdOrders, o)
	return s.orderErr
}

func (s *stubRepo) GetPaymentOrder(ctx context.Context, txnRef string) (*model.PaymentOrder, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) ActivateOrder(ctx context.Context, txnRef string, amountCents int64) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	s.activatedRefs = append(s.activatedRefs, txnRef)
	return nil
}

func (s *stubRepo) MarkOrderFailed(ctx context.Context, txnRef string) error {
	s.markFailedRefs = append(s.markFailedRefs, txnRef)
	return s.markFailedErr
}

func (s *stubRepo) StalePendingOrders(ctx context.Context, moment time.Time, limit int) ([]model.PaymentOrder, error) {
	return s.staleOrders, s.staleErr
}

func (s *stubRepo) ExpireOrder(ctx context.Context, txnRef string) (bool, error) {
	if s.expireErr != nil {
		return false, s.expireErr
	}
	s.expiredRefs = append(s.expiredRefs, txnRef)
	return true, nil
}

func (s *stubRepo) AddTier(ctx context.Context, t *model.SubscriptionTier) error {
	if s.addTierErr != nil {
		return s.addTierErr
	}
	t.ID = uuid.New()
	s.addedTiers = append(s.addedTiers, t)
	return nil
}

func (s *stubRepo) ListTiers(ctx context.Context) ([]model.SubscriptionTier, error) {
	return s.tiers, s.tiersErr
}

func (s *stubRepo) GetTier(ctx context.Context, id uuid.UUID) (*model.SubscriptionTier, error) {
	return s.tier, s.tierErr
}

func (s *stubRepo) CreateSubscriptionOrder(ctx context.Context, sub *model.Subscription, o *model.PaymentOrder) error {
	if s.subErr != nil {
		return s.subErr
	}
	sub.ID = uuid.New()
	o.TargetID = sub.ID
	s.createdSubs = append(s.createdSubs, sub)
	s.createdOrders = append(s.createdOrders, o)
	return nil
}

type stubGateway struct {
	link    *vnpay.PaymentLink
	linkErr error

	callback    *vnpay.CallbackResult
	callbackErr error

	requests []vnpay.PaymentRequest
}

func (g *stubGateway) BuildPaymentURL(req vnpay.PaymentRequest) (*vnpay.PaymentLink, error) {
	g.requests = append(g.requests, req)
	return g.link, g.linkErr
}

func (g *stubGateway) ParseCallback(values url.Values) (*vnpay.CallbackResult, error) {
	return g.callback, g.callbackErr
}

type stubQuerier struct {
	status *vnpay.TxnStatus
	err    error
}

func (q *stubQuerier) TransactionStatus(ctx context.Context, txnRef string, createdAt time.Time) (*vnpay.TxnStatus, error) {
	return q.status, q.err
}

func newTestService(repo *stubRepo, gw *stubGateway, q *stubQuerier) *Service {
	var querier GatewayQuerier
	if q != nil {
		querier = q
	}
	return NewService(repo, gw, querier, zap.NewNop())
}

func TestCreateBooking_InvalidInterval(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := svc.CreateBooking(context.Background(), uuid.New(), uuid.New(), start, start)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}

	_, err = svc.CreateBooking(context.Background(), uuid.New(), uuid.New(), start.Add(time.Hour), start)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval for reversed interval, got %v", err)
	}
}

func TestCreateBooking_PropagatesSlotTaken(t *testing.T) {
	repo := &stubRepo{createErr: repository.ErrSlotTaken}
	svc := newTestService(repo, nil, nil)

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := svc.CreateBooking(context.Background(), uuid.New(), uuid.New(), start, start.Add(time.Hour))
	if !errors.Is(err, repository.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestTransitionBooking_RejectsPendingTarget(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	p := model.Principal{ID: uuid.New(), Role: model.RoleArtist}

	_, err := svc.TransitionBooking(context.Background(), uuid.New(), model.BookingStatusPending, p)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for target PENDING, got %v", err)
	}

	_, err = svc.TransitionBooking(context.Background(), uuid.New(), model.BookingStatus("UNKNOWN"), p)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown target, got %v", err)
	}
}

func TestCheckAvailability(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	serviceID := uuid.New()

	repo := &stubRepo{
		service: &model.Service{ID: serviceID},
		bookings: []model.Booking{
			{
				ServiceID: serviceID,
				StartTime: base,
				EndTime:   base.Add(time.Hour),
				Status:    model.BookingStatusConfirmed,
			},
			{
				ServiceID: serviceID,
				StartTime: base.Add(2 * time.Hour),
				EndTime:   base.Add(3 * time.Hour),
				Status:    model.BookingStatusCanceled,
			},
		},
	}
	svc := newTestService(repo, nil, nil)

	available, err := svc.CheckAvailability(context.Background(), serviceID, base.Add(30*time.Minute), base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("CheckAvailability error: %v", err)
	}
	if available {
		t.Fatalf("interval overlapping a confirmed booking must not be available")
	}

	// Отменённое бронирование слот не занимает.
	available, err = svc.CheckAvailability(context.Background(), serviceID, base.Add(2*time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("CheckAvailability error: %v", err)
	}
	if !available {
		t.Fatalf("interval overlapping only a canceled booking must be available")
	}

	// Смежный интервал конфликтом не считается.
	available, err = svc.CheckAvailability(context.Background(), serviceID, base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("CheckAvailability error: %v", err)
	}
	if !available {
		t.Fatalf("adjacent interval must be available")
	}
}

func TestCheckAvailability_UnknownService(t *testing.T) {
	repo := &stubRepo{serviceErr: repository.ErrServiceNotFound}
	svc := newTestService(repo, nil, nil)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	_, err := svc.CheckAvailability(context.Background(), uuid.New(), base, base.Add(time.Hour))
	if !errors.Is(err, repository.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestSubmitRating_InvalidScore(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	for _, score := range []float64{-1, 5.5} {
		_, err := svc.SubmitRating(context.Background(), uuid.New(), uuid.New(), score, "")
		if !errors.Is(err, ErrInvalidScore) {
			t.Fatalf("score %v: expected ErrInvalidScore, got %v", score, err)
		}
	}
}

func TestSubmitRating_PropagatesNotAllowed(t *testing.T) {
	repo := &stubRepo{ratingErr: repository.ErrRatingNotAllowed}
	svc := newTestService(repo, nil, nil)

	_, err := svc.SubmitRating(context.Background(), uuid.New(), uuid.New(), 4, "great")
	if !errors.Is(err, repository.ErrRatingNotAllowed) {
		t.Fatalf("expected ErrRatingNotAllowed, got %v", err)
	}
}

func TestRegisterUser_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	if _, err := svc.RegisterUser(context.Background(), "", model.RoleCustomer); err == nil {
		t.Fatalf("expected error for empty display name")
	}
	if _, err := svc.RegisterUser(context.Background(), "name", model.Role("boss")); err == nil {
		t.Fatalf("expected error for unknown role")
	}

	u, err := svc.RegisterUser(context.Background(), "name", model.RoleArtist)
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if u.Role != model.RoleArtist {
		t.Fatalf("role = %s, want artist", u.Role)
	}
}

func TestRegisterService_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	if _, err := svc.RegisterService(context.Background(), uuid.New(), "", "", 100, 60); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := svc.RegisterService(context.Background(), uuid.New(), "cut", "", -1, 60); err == nil {
		t.Fatalf("expected error for negative price")
	}
	if _, err := svc.RegisterService(context.Background(), uuid.New(), "cut", "", 100, 0); err == nil {
		t.Fatalf("expected error for zero duration")
	}
}

func TestRegisterTier_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	if _, err := svc.RegisterTier(context.Background(), "", 9900, 30); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := svc.RegisterTier(context.Background(), "pro", 0, 30); err == nil {
		t.Fatalf("expected error for non-positive price")
	}
	if _, err := svc.RegisterTier(context.Background(), "pro", 9900, 0); err == nil {
		t.Fatalf("expected error for non-positive duration")
	}
}

func TestRegisterTier_CreatesTier(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil, nil)

	tier, err := svc.RegisterTier(context.Background(), "pro", 9900, 30)
	if err != nil {
		t.Fatalf("RegisterTier error: %v", err)
	}
	if tier.ID == uuid.Nil {
		t.Fatalf("tier must get an id")
	}
	if len(repo.addedTiers) != 1 || repo.addedTiers[0].PriceCents != 9900 {
		t.Fatalf("unexpected stored tiers: %+v", repo.addedTiers)
	}
}

func TestListTiers_PassThrough(t *testing.T) {
	repo := &stubRepo{
		tiers: []model.SubscriptionTier{
			{ID: uuid.New(), Name: "basic", PriceCents: 4900, DurationDays: 30},
		},
	}
	svc := newTestService(repo, nil, nil)

	tiers, err := svc.ListTiers(context.Background())
	if err != nil {
		t.Fatalf("ListTiers error: %v", err)
	}
	if len(tiers) != 1 || tiers[0].Name != "basic" {
		t.Fatalf("unexpected tiers: %+v", tiers)
	}
}

func TestStartOrderReaper_StopsOnContext(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	svc.StartOrderReaper(ctx)
	<-ctx.Done()
}
