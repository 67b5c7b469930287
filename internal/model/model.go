// Package model содержит доменные сущности магазина: пользователей, корзины, заказы и курьеров.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoyaltyLevel описывает уровень программы лояльности.
type LoyaltyLevel string

const (
	LoyaltyWhite    LoyaltyLevel = "White"
	LoyaltyPlatinum LoyaltyLevel = "Platinum"
	LoyaltyBlack    LoyaltyLevel = "Black"
)

// Valid сообщает, является ли уровень одним из известных.
func (l LoyaltyLevel) Valid() bool {
	switch l {
	case LoyaltyWhite, LoyaltyPlatinum, LoyaltyBlack:
		return true
	}
	return false
}

// User представляет покупателя и его профиль лояльности.
type User struct {
	ID                  int64
	Username            string
	Stamps              int
	LoyaltyLevel        LoyaltyLevel
	TotalItemsPurchased int
	IsBanned            bool
	CreatedAt           time.Time
}

// Item описывает товар каталога.
type Item struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Tastes      []string
}

// Basket представляет корзину пользователя.
type Basket struct {
	ID         int64
	UserID     int64
	TotalPrice decimal.Decimal
}

// BasketLine описывает позицию корзины. Price фиксируется в момент добавления.
type BasketLine struct {
	ID            int64
	BasketID      int64
	ItemID        int64
	Name          string
	Quantity      int
	Price         decimal.Decimal
	SelectedTaste string
}

// PricedLine содержит позицию корзины с рассчитанной скидкой лояльности.
type PricedLine struct {
	BasketLine
	DiscountedQuantity int
	DiscountedPrice    decimal.Decimal
	DiscountPercent    int
	Total              decimal.Decimal
}

// BasketSnapshot - представление корзины с предварительным расчётом скидки.
type BasketSnapshot struct {
	UserID                 int64
	Lines                  []PricedLine
	TotalPrice             decimal.Decimal
	LoyaltyDiscountApplied bool
	LoyaltyDiscountPercent int
	DiscountedUnits        int
	Stamps                 int
	LoyaltyLevel           LoyaltyLevel
}

// OrderStatus описывает состояние заказа.
type OrderStatus string

const (
	OrderWaitingForCourier OrderStatus = "waiting_for_courier"
	OrderInDelivery        OrderStatus = "in_delivery"
	OrderDelivered         OrderStatus = "delivered"
	OrderCompleted         OrderStatus = "completed"
	OrderCanceled          OrderStatus = "canceled"
)

// Valid сообщает, является ли статус одним из известных.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderWaitingForCourier, OrderInDelivery, OrderDelivered, OrderCompleted, OrderCanceled:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCanceled
}

// BotMessage идентифицирует сообщение бота о заказе для последующей очистки.
type BotMessage struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Order - снимок корзины на момент оформления. Изменяемы только Status, CourierID и BotMessages.
type Order struct {
	ID              int64
	UserID          int64
	Username        string
	Telephone       string
	Payment         string
	Delivery        string
	Address         string
	DeliveryCost    decimal.Decimal
	TotalPrice      decimal.Decimal
	Promocode       string
	Discount        int
	LoyaltyDiscount int
	Status          OrderStatus
	CourierID       *int64
	BotMessages     []BotMessage
	Lines           []OrderLine
	CreatedAt       time.Time
}

// ItemsCount возвращает количество единиц товара в заказе.
func (o Order) ItemsCount() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// OrderLine - неизменяемая позиция заказа.
type OrderLine struct {
	ID                 int64
	OrderID            int64
	ItemID             int64
	Name               string
	Quantity           int
	DiscountedQuantity int
	PricePerItem       decimal.Decimal
	TotalPrice         decimal.Decimal
	SelectedTaste      string
}

// Promocode описывает промокод на процентную скидку.
type Promocode struct {
	ID         int64
	Name       string
	Percentage int
	IsActive   bool
}

// Courier описывает курьера. Заказ ссылается на Courier.ID, а не на пользователя.
type Courier struct {
	ID        int64
	UserID    int64
	Username  string
	Phone     string
	CarModel  string
	IsActive  bool
	CreatedAt time.Time
}

// Role описывает роль пользователя, хранимую в БД.
type Role string

// RoleAdmin даёт права администратора.
const RoleAdmin Role = "admin"

// CheckoutRequest содержит данные для оформления заказа из корзины.
type CheckoutRequest struct {
	UserID       int64
	Payment      string
	Delivery     string
	Address      string
	Telephone    string
	Promocode    string
	DeliveryCost decimal.Decimal
}

// LoyaltyCard - сводка программы лояльности пользователя.
type LoyaltyCard struct {
	UserID              int64        `json:"telegram_id"`
	Username            string       `json:"username"`
	Stamps              int          `json:"stamps"`
	LoyaltyLevel        LoyaltyLevel `json:"loyalty_level"`
	DiscountPercent     int          `json:"discount_percentage"`
	TotalItemsPurchased int          `json:"total_items_purchased"`
	StampsUntilDiscount int          `json:"stamps_until_discount"`
	IsBanned            bool         `json:"is_banned"`
}
