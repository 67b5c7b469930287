package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

type itemRequest struct {
	Name        string          `json:"name" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=1024"`
	Price       decimal.Decimal `json:"price"`
	Tastes      []string        `json:"tastes" validate:"dive,required,max=64"`
}

type itemResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Tastes      []string        `json:"tastes"`
}

func newItemResponse(it model.Item) itemResponse {
	tastes := it.Tastes
	if tastes == nil {
		tastes = []string{}
	}
	return itemResponse{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Price:       it.Price,
		Tastes:      tastes,
	}
}

// GetItems возвращает каталог товаров.
func (h *Handler) GetItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.writeError(w, err, "list items error")
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, newItemResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateItem добавляет товар в каталог.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "create item error")
		return
	}

	item, err := h.service.CreateItem(r.Context(), userID, model.Item{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Tastes:      req.Tastes,
	})
	if err != nil {
		h.writeError(w, err, "create item error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusCreated, newItemResponse(*item))
}

type promocodeRequest struct {
	Name       string `json:"name" validate:"required,max=64"`
	Percentage int    `json:"percentage" validate:"required,min=1,max=100"`
	IsActive   *bool  `json:"is_active"`
}

type promocodeResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	IsActive   bool   `json:"is_active"`
}

// GetPromocodes возвращает промокоды.
func (h *Handler) GetPromocodes(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListPromocodes(r.Context())
	if err != nil {
		h.writeError(w, err, "list promocodes error")
		return
	}

	resp := make([]promocodeResponse, 0, len(promos))
	for _, p := range promos {
		resp = append(resp, promocodeResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreatePromocode добавляет промокод. По умолчанию промокод активен.
func (h *Handler) CreatePromocode(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req promocodeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "create promocode error")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	p, err := h.service.CreatePromocode(r.Context(), userID, model.Promocode{
		Name:       req.Name,
		Percentage: req.Percentage,
		IsActive:   active,
	})
	if err != nil {
		h.writeError(w, err, "create promocode error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusCreated, promocodeResponse(*p))
}
