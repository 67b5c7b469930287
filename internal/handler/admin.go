package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/service"
)

type userRefRequest struct {
	TelegramID int64 `json:"telegram_id" validate:"required,gt=0"`
}

// AddAdmin выдаёт пользователю роль администратора.
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req userRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "add admin error")
		return
	}

	if err := h.service.AddAdmin(r.Context(), actorID, req.TelegramID); err != nil {
		h.writeError(w, err, "add admin error", zap.Int64("userID", req.TelegramID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveAdmin отзывает роль администратора.
func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveAdmin(r.Context(), actorID, userID); err != nil {
		h.writeError(w, err, "remove admin error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type courierRequest struct {
	TelegramID int64  `json:"telegram_id" validate:"required,gt=0"`
	Username   string `json:"username" validate:"max=64"`
	Phone      string `json:"phone" validate:"required,contact"`
	CarModel   string `json:"car_model" validate:"max=128"`
}

type courierResponse struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	Phone      string `json:"phone"`
	CarModel   string `json:"car_model"`
	IsActive   bool   `json:"is_active"`
}

func newCourierResponse(c model.Courier) courierResponse {
	return courierResponse{
		ID:         c.ID,
		TelegramID: c.UserID,
		Username:   c.Username,
		Phone:      c.Phone,
		CarModel:   c.CarModel,
		IsActive:   c.IsActive,
	}
}

// AddCourier регистрирует курьера.
func (h *Handler) AddCourier(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req courierRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "add courier error")
		return
	}

	c, err := h.service.AddCourier(r.Context(), actorID, model.Courier{
		UserID:   req.TelegramID,
		Username: req.Username,
		Phone:    req.Phone,
		CarModel: req.CarModel,
	})
	if err != nil {
		h.writeError(w, err, "add courier error", zap.Int64("userID", req.TelegramID))
		return
	}

	writeJSON(w, http.StatusCreated, newCourierResponse(*c))
}

// GetCouriers возвращает активных курьеров.
func (h *Handler) GetCouriers(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	couriers, err := h.service.ListCouriers(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err, "list couriers error")
		return
	}

	resp := make([]courierResponse, 0, len(couriers))
	for _, c := range couriers {
		resp = append(resp, newCourierResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type courierActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SetCourierActive включает или отключает курьера.
func (h *Handler) SetCourierActive(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req courierActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "set courier active error")
		return
	}

	if err := h.service.SetCourierActive(r.Context(), actorID, userID, *req.IsActive); err != nil {
		h.writeError(w, err, "set courier active error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BanUser блокирует пользователя.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	h.changeBan(w, r, true)
}

// UnbanUser снимает блокировку.
func (h *Handler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	h.changeBan(w, r, false)
}

func (h *Handler) changeBan(w http.ResponseWriter, r *http.Request, banned bool) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var err error
	if banned {
		err = h.service.BanUser(r.Context(), actorID, userID)
	} else {
		err = h.service.UnbanUser(r.Context(), actorID, userID)
	}
	if err != nil {
		h.writeError(w, err, "change ban error", zap.Int64("userID", userID), zap.Bool("banned", banned))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type loyaltyRequest struct {
	Stamps              int                `json:"stamps" validate:"min=0,max=5"`
	LoyaltyLevel        model.LoyaltyLevel `json:"loyalty_level" validate:"required,oneof=White Platinum Black"`
	TotalItemsPurchased int                `json:"total_items_purchased" validate:"min=0"`
}

// OverrideLoyalty перезаписывает профиль лояльности пользователя.
func (h *Handler) OverrideLoyalty(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req loyaltyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "override loyalty error")
		return
	}

	card, err := h.service.OverrideLoyalty(r.Context(), actorID, userID, service.LoyaltyOverride{
		Stamps:              req.Stamps,
		Level:               req.LoyaltyLevel,
		TotalItemsPurchased: req.TotalItemsPurchased,
	})
	if err != nil {
		h.writeError(w, err, "override loyalty error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, card)
}
