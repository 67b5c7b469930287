// Package handler содержит HTTP-обработчики API магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/service"
	"github.com/mmeshcher/shopbot/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, userID int64, username string) (*model.User, error)
	GetLoyalty(ctx context.Context, userID int64) (model.LoyaltyCard, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)

	BasketView(ctx context.Context, userID int64) (*model.BasketSnapshot, error)
	AddLine(ctx context.Context, userID, itemID int64, quantity int, taste string) (*model.BasketSnapshot, error)
	RemoveLine(ctx context.Context, userID, itemID int64) (*model.BasketSnapshot, error)

	Checkout(ctx context.Context, req model.CheckoutRequest) (*model.Order, error)
	GetOrder(ctx context.Context, orderID, userID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	WaitingOrders(ctx context.Context, actorID int64) ([]model.Order, error)
	ClaimOrder(ctx context.Context, orderID, courierUserID int64) (*model.Order, error)
	AdvanceOrder(ctx context.Context, orderID, actorID int64, target model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID, actorID int64, reason string) (*model.Order, error)

	CreateItem(ctx context.Context, actorID int64, item model.Item) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	CreatePromocode(ctx context.Context, actorID int64, p model.Promocode) (*model.Promocode, error)
	ListPromocodes(ctx context.Context) ([]model.Promocode, error)

	AddAdmin(ctx context.Context, actorID, userID int64) error
	RemoveAdmin(ctx context.Context, actorID, userID int64) error
	AddCourier(ctx context.Context, actorID int64, c model.Courier) (*model.Courier, error)
	SetCourierActive(ctx context.Context, actorID, userID int64, active bool) error
	ListCouriers(ctx context.Context, actorID int64) ([]model.Courier, error)
	BanUser(ctx context.Context, actorID, userID int64) error
	UnbanUser(ctx context.Context, actorID, userID int64) error
	OverrideLoyalty(ctx context.Context, actorID, userID int64, o service.LoyaltyOverride) (model.LoyaltyCard, error)
}

// Handler реализует HTTP-обработчики API магазина.
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

type errorResponse struct {
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// writeError переводит доменную ошибку в HTTP-статус. Неизвестные ошибки логируются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var terr *model.TransitionError
	switch {
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:         terr.Error(),
			CurrentStatus: string(terr.Current),
		})
	case errors.Is(err, model.ErrClaimLost):
		writeJSON(w, http.StatusConflict, errorResponse{Error: model.ErrClaimLost.Error()})
	case errors.Is(err, model.ErrAlreadyExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrEmptyBasket):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON читает тело запроса и проверяет его по тегам validate.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(model.ErrValidation, err)
	}
	return validation.Struct(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

// adminOnly пропускает запрос только для администраторов.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		isAdmin, err := h.service.IsAdmin(r.Context(), userID)
		if err != nil {
			h.logger.Error("check admin error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if !isAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type registerRequest struct {
	TelegramID int64  `json:"telegram_id" validate:"required,gt=0"`
	Username   string `json:"username" validate:"max=64"`
}

type registerResponse struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	Token      string `json:"token"`
}

// Register регистрирует пользователя Telegram и выдаёт токен авторизации.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.TelegramID, req.Username)
	if err != nil {
		h.writeError(w, err, "register user error", zap.Int64("userID", req.TelegramID))
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	writeJSON(w, http.StatusOK, registerResponse{
		TelegramID: u.ID,
		Username:   u.Username,
		Token:      h.authMiddleware.Token(u.ID),
	})
}

// GetLoyalty возвращает карточку лояльности текущего пользователя.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	card, err := h.service.GetLoyalty(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get loyalty error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, card)
}

type basketLineResponse struct {
	ItemID             int64           `json:"item_id"`
	Name               string          `json:"name"`
	Quantity           int             `json:"quantity"`
	SelectedTaste      string          `json:"selected_taste,omitempty"`
	Price              decimal.Decimal `json:"price"`
	DiscountedQuantity int             `json:"discounted_quantity"`
	DiscountedPrice    decimal.Decimal `json:"discounted_price"`
	Total              decimal.Decimal `json:"total"`
}

type basketResponse struct {
	Lines                  []basketLineResponse `json:"items"`
	TotalPrice             decimal.Decimal      `json:"total_price"`
	LoyaltyDiscountApplied bool                 `json:"loyalty_discount_applied"`
	LoyaltyDiscountPercent int                  `json:"loyalty_discount_percentage"`
	DiscountedUnits        int                  `json:"discounted_units"`
	Stamps                 int                  `json:"stamps"`
	LoyaltyLevel           model.LoyaltyLevel   `json:"loyalty_level"`
}

func newBasketResponse(s *model.BasketSnapshot) basketResponse {
	resp := basketResponse{
		Lines:                  make([]basketLineResponse, 0, len(s.Lines)),
		TotalPrice:             s.TotalPrice,
		LoyaltyDiscountApplied: s.LoyaltyDiscountApplied,
		LoyaltyDiscountPercent: s.LoyaltyDiscountPercent,
		DiscountedUnits:        s.DiscountedUnits,
		Stamps:                 s.Stamps,
		LoyaltyLevel:           s.LoyaltyLevel,
	}
	for _, l := range s.Lines {
		resp.Lines = append(resp.Lines, basketLineResponse{
			ItemID:             l.ItemID,
			Name:               l.Name,
			Quantity:           l.Quantity,
			SelectedTaste:      l.SelectedTaste,
			Price:              l.Price,
			DiscountedQuantity: l.DiscountedQuantity,
			DiscountedPrice:    l.DiscountedPrice,
			Total:              l.Total,
		})
	}
	return resp
}

// GetBasket возвращает корзину текущего пользователя с предварительным расчётом скидки.
func (h *Handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	snap, err := h.service.BasketView(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get basket error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, newBasketResponse(snap))
}

type addLineRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=100"`
	Taste    string `json:"selected_taste" validate:"max=64"`
}

// AddBasketItem добавляет товар в корзину текущего пользователя.
func (h *Handler) AddBasketItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "add basket item error")
		return
	}

	snap, err := h.service.AddLine(r.Context(), userID, req.ItemID, req.Quantity, req.Taste)
	if err != nil {
		h.writeError(w, err, "add basket item error", zap.Int64("userID", userID), zap.Int64("itemID", req.ItemID))
		return
	}

	writeJSON(w, http.StatusOK, newBasketResponse(snap))
}

// RemoveBasketItem удаляет товар из корзины текущего пользователя.
func (h *Handler) RemoveBasketItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	itemID, ok := pathID(r, "itemID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	snap, err := h.service.RemoveLine(r.Context(), userID, itemID)
	if err != nil {
		h.writeError(w, err, "remove basket item error", zap.Int64("userID", userID), zap.Int64("itemID", itemID))
		return
	}

	writeJSON(w, http.StatusOK, newBasketResponse(snap))
}
