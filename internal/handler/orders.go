package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

type checkoutRequest struct {
	Payment      string          `json:"payment" validate:"required,max=64"`
	Delivery     string          `json:"delivery" validate:"required,max=64"`
	Address      string          `json:"address" validate:"required,max=256"`
	Telephone    string          `json:"telephone" validate:"omitempty,contact"`
	Promocode    string          `json:"promocode" validate:"max=64"`
	DeliveryCost decimal.Decimal `json:"delivery_cost"`
}

type orderLineResponse struct {
	ItemID             int64           `json:"item_id"`
	Name               string          `json:"name"`
	Quantity           int             `json:"quantity"`
	DiscountedQuantity int             `json:"discounted_quantity"`
	PricePerItem       decimal.Decimal `json:"price_per_item"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	SelectedTaste      string          `json:"selected_taste,omitempty"`
}

type orderResponse struct {
	ID              int64               `json:"id"`
	Status          string              `json:"status"`
	Username        string              `json:"username,omitempty"`
	Telephone       string              `json:"telephone"`
	Payment         string              `json:"payment"`
	Delivery        string              `json:"delivery"`
	Address         string              `json:"address"`
	DeliveryCost    decimal.Decimal     `json:"delivery_cost"`
	TotalPrice      decimal.Decimal     `json:"total_price"`
	Promocode       string              `json:"promocode,omitempty"`
	Discount        int                 `json:"discount"`
	LoyaltyDiscount int                 `json:"loyalty_discount"`
	CourierID       *int64              `json:"courier_id,omitempty"`
	Items           []orderLineResponse `json:"items"`
	CreatedAt       string              `json:"created_at"`
}

func newOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Status:          string(o.Status),
		Username:        o.Username,
		Telephone:       o.Telephone,
		Payment:         o.Payment,
		Delivery:        o.Delivery,
		Address:         o.Address,
		DeliveryCost:    o.DeliveryCost,
		TotalPrice:      o.TotalPrice,
		Promocode:       o.Promocode,
		Discount:        o.Discount,
		LoyaltyDiscount: o.LoyaltyDiscount,
		CourierID:       o.CourierID,
		Items:           make([]orderLineResponse, 0, len(o.Lines)),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range o.Lines {
		resp.Items = append(resp.Items, orderLineResponse{
			ItemID:             l.ItemID,
			Name:               l.Name,
			Quantity:           l.Quantity,
			DiscountedQuantity: l.DiscountedQuantity,
			PricePerItem:       l.PricePerItem,
			TotalPrice:         l.TotalPrice,
			SelectedTaste:      l.SelectedTaste,
		})
	}
	return resp
}

func writeOrders(w http.ResponseWriter, orders []model.Order) {
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Checkout оформляет заказ из корзины текущего пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "checkout error")
		return
	}

	order, err := h.service.Checkout(r.Context(), model.CheckoutRequest{
		UserID:       userID,
		Payment:      req.Payment,
		Delivery:     req.Delivery,
		Address:      req.Address,
		Telephone:    req.Telephone,
		Promocode:    req.Promocode,
		DeliveryCost: req.DeliveryCost,
	})
	if err != nil {
		h.writeError(w, err, "checkout error", zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(*order))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get orders error", zap.Int64("userID", userID))
		return
	}

	writeOrders(w, orders)
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID, userID)
	if err != nil {
		h.writeError(w, err, "get order error", zap.Int64("userID", userID), zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*order))
}

// GetWaitingOrders возвращает заказы, ожидающие курьера.
func (h *Handler) GetWaitingOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.WaitingOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get waiting orders error", zap.Int64("userID", userID))
		return
	}

	writeOrders(w, orders)
}

// ClaimOrder назначает заказ текущему курьеру.
func (h *Handler) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.ClaimOrder(r.Context(), orderID, userID)
	if err != nil {
		h.writeError(w, err, "claim order error", zap.Int64("userID", userID), zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*order))
}

type statusRequest struct {
	Status model.OrderStatus `json:"status" validate:"required"`
}

// UpdateOrderStatus переводит заказ в новый статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "update order status error")
		return
	}

	order, err := h.service.AdvanceOrder(r.Context(), orderID, userID, req.Status)
	if err != nil {
		h.writeError(w, err, "update order status error",
			zap.Int64("userID", userID),
			zap.Int64("orderID", orderID),
			zap.String("status", string(req.Status)),
		)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*order))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

// CancelOrder отменяет заказ. Тело запроса с причиной необязательно.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err, "cancel order error")
			return
		}
	}

	order, err := h.service.CancelOrder(r.Context(), orderID, userID, req.Reason)
	if err != nil {
		h.writeError(w, err, "cancel order error", zap.Int64("userID", userID), zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(*order))
}
