// Package handler содержит HTTP-обработчики API сервиса бронирования.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/artbooking-system/internal/middleware"
	"github.com/mmeshcher/artbooking-system/internal/model"
	"github.com/mmeshcher/artbooking-system/internal/repository"
	"github.com/mmeshcher/artbooking-system/internal/service"
	"github.com/mmeshcher/artbooking-system/internal/vnpay"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, displayName string, role model.Role) (*model.User, error)
	RegisterService(ctx context.Context, artistID uuid.UUID, name, description string, priceCents int64, durationMinutes int) (*model.Service, error)
	CreateBooking(ctx context.Context, serviceID, customerID uuid.UUID, start, end time.Time) (*model.Booking, error)
	TransitionBooking(ctx context.Context, bookingID uuid.UUID, target model.BookingStatus, p model.Principal) (*model.Booking, error)
	ListBookings(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error)
	CheckAvailability(ctx context.Context, serviceID uuid.UUID, start, end time.Time) (bool, error)
	SubmitRating(ctx context.Context, artistID, customerID uuid.UUID, score float64, comment string) (*model.ArtistRating, error)
	ArtistRating(ctx context.Context, artistID uuid.UUID) (*model.ArtistRating, error)
	RegisterTier(ctx context.Context, name string, priceCents int64, durationDays int) (*model.SubscriptionTier, error)
	ListTiers(ctx context.Context) ([]model.SubscriptionTier, error)
	CreateBookingPayment(ctx context.Context, bookingID uuid.UUID, p model.Principal, clientIP string) (*vnpay.PaymentLink, error)
	CreateSubscriptionPayment(ctx context.Context, tierID uuid.UUID, p model.Principal, clientIP string) (*vnpay.PaymentLink, error)
	ProcessCallback(ctx context.Context, values url.Values) (*vnpay.CallbackResult, error)
}

// Handler реализует HTTP-обработчики API сервиса бронирования.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменные ошибки в HTTP-статусы. Ошибки авторизации
// отличаются от ошибок валидации: клиенту показывается forbidden, а не
// bad request.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInterval),
		errors.Is(err, service.ErrInvalidScore),
		errors.Is(err, vnpay.ErrNonPositiveAmount),
		errors.Is(err, vnpay.ErrMalformedCallback):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrForbidden),
		errors.Is(err, repository.ErrRatingNotAllowed):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrServiceNotFound),
		errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrTierNotFound),
		errors.Is(err, repository.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrSlotTaken),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrBookingNotEnded):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type userResponse struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	RatingAvg   float64 `json:"rating_avg"`
	RatingCount int64   `json:"rating_count"`
}

// Register создаёт пользователя и устанавливает cookie авторизации.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.DisplayName, model.Role(req.Role))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Principal{ID: u.ID, Role: u.Role})
	writeJSON(w, http.StatusCreated, userResponse{
		ID:          u.ID.String(),
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
	})
}

type createServiceRequest struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

type serviceResponse struct {
	ID              string  `json:"id"`
	ArtistID        string  `json:"artist_id"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

// CreateService создаёт услугу от имени текущего артиста.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if p.Role != model.RoleArtist {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	svc, err := h.service.RegisterService(r.Context(), p.ID, req.Name, req.Description,
		int64(math.Round(req.Price*100)), req.DurationMinutes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, serviceResponse{
		ID:              svc.ID.String(),
		ArtistID:        svc.ArtistID.String(),
		Name:            svc.Name,
		Price:           float64(svc.PriceCents) / 100,
		DurationMinutes: svc.DurationMinutes,
	})
}

type createTierRequest struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	DurationDays int     `json:"duration_days"`
}

type tierResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	DurationDays int     `json:"duration_days"`
}

func toTierResponse(t *model.SubscriptionTier) tierResponse {
	return tierResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Price:        float64(t.PriceCents) / 100,
		DurationDays: t.DurationDays,
	}
}

// CreateTier создаёт тариф подписки. Доступно только администратору.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if p.Role != model.RoleAdmin {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req createTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tier, err := h.service.RegisterTier(r.Context(), req.Name,
		int64(math.Round(req.Price*100)), req.DurationDays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, toTierResponse(tier))
}

// ListTiers возвращает доступные тарифы подписки.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.service.ListTiers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]tierResponse, 0, len(tiers))
	for i := range tiers {
		resp = append(resp, toTierResponse(&tiers[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createBookingRequest struct {
	ServiceID string `json:"service_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type bookingResponse struct {
	ID          string  `json:"id"`
	ServiceID   string  `json:"service_id"`
	CustomerID  string  `json:"customer_id"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Total       float64 `json:"total"`
	Deposit     float64 `json:"deposit"`
	DepositPaid bool    `json:"deposit_paid"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID.String(),
		ServiceID:   b.ServiceID.String(),
		CustomerID:  b.CustomerID.String(),
		Start:       b.StartTime.Format(time.RFC3339),
		End:         b.EndTime.Format(time.RFC3339),
		Total:       float64(b.TotalCents) / 100,
		Deposit:     float64(b.DepositCents) / 100,
		DepositPaid: b.DepositPaid,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
	}
}

// CreateBooking создаёт бронирование услуги текущим клиентом.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		http.Error(w, "invalid service_id", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		http.Error(w, "invalid start time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		http.Error(w, "invalid end time", http.StatusBadRequest)
		return
	}

	b, err := h.service.CreateBooking(r.Context(), serviceID, p.ID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// ListBookings возвращает бронирования по фильтрам запроса.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetPrincipalFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	f, err := parseBookingFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), *f)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(bookings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseBookingFilter(q url.Values) (*repository.BookingFilter, error) {
	var f repository.BookingFilter

	if v := q.Get("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, errors.New("invalid customer_id")
		}
		f.CustomerID = &id
	}
	if v := q.Get("artist_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, errors.New("invalid artist_id")
		}
		f.ArtistID = &id
	}
	if v := q.Get("status"); v != "" {
		s := model.BookingStatus(v)
		f.Status = &s
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("invalid from time")
		}
		f.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("invalid to time")
		}
		f.To = &ts
	}

	return &f, nil
}

type transitionRequest struct {
	Status string `json:"status"`
}

// TransitionBooking переводит бронирование в новый статус от имени текущего участника.
func (h *Handler) TransitionBooking(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.TransitionBooking(r.Context(), bookingID, model.BookingStatus(req.Status), p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

// CheckAvailability сообщает, свободен ли интервал у услуги.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid service id", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		http.Error(w, "invalid start time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		http.Error(w, "invalid end time", http.StatusBadRequest)
		return
	}

	available, err := h.service.CheckAvailability(r.Context(), serviceID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{Available: available})
}

type ratingRequest struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// SubmitRating сохраняет оценку артиста текущим клиентом.
func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	artistID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid artist id", http.StatusBadRequest)
		return
	}

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	agg, err := h.service.SubmitRating(r.Context(), artistID, p.ID, req.Score, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// GetArtistRating возвращает агрегированную оценку артиста.
func (h *Handler) GetArtistRating(w http.ResponseWriter, r *http.Request) {
	artistID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid artist id", http.StatusBadRequest)
		return
	}

	agg, err := h.service.ArtistRating(r.Context(), artistID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

type paymentLinkResponse struct {
	PaymentURL string `json:"payment_url"`
	TxnRef     string `json:"txn_ref"`
	ExpiresAt  string `json:"expires_at"`
}

// CreateBookingPayment выдаёт платёжную ссылку для оплаты бронирования.
func (h *Handler) CreateBookingPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	link, err := h.service.CreateBookingPayment(r.Context(), bookingID, p, clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentLinkResponse{
		PaymentURL: link.URL,
		TxnRef:     link.TxnRef,
		ExpiresAt:  link.ExpiresAt.Format(time.RFC3339),
	})
}

// CreateSubscriptionPayment выдаёт платёжную ссылку для оплаты подписки на тариф.
func (h *Handler) CreateSubscriptionPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tierID, err := uuid.Parse(chi.URLParam(r, "tierID"))
	if err != nil {
		http.Error(w, "invalid tier id", http.StatusBadRequest)
		return
	}

	link, err := h.service.CreateSubscriptionPayment(r.Context(), tierID, p, clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentLinkResponse{
		PaymentURL: link.URL,
		TxnRef:     link.TxnRef,
		ExpiresAt:  link.ExpiresAt.Format(time.RFC3339),
	})
}

type callbackResponse struct {
	Success      bool   `json:"success"`
	TxnRef       string `json:"txn_ref"`
	ResponseCode string `json:"response_code"`
}

// PaymentCallback обрабатывает обратный вызов платёжного шлюза.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ProcessCallback(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		Success:      res.Success,
		TxnRef:       res.TxnRef,
		ResponseCode: res.ResponseCode,
	})
}
