// Package lifecycle описывает допустимые переходы заказа и права на них.
package lifecycle

import (
	"github.com/mmeshcher/shopbot/internal/model"
)

// Actor - инициатор перехода.
// CourierID заполнен, если пользователь зарегистрирован как курьер.
type Actor struct {
	UserID        int64
	IsAdmin       bool
	CourierID     *int64
	CourierActive bool
}

// IsCourier сообщает, является ли инициатор активным курьером.
func (a Actor) IsCourier() bool {
	return a.CourierID != nil && a.CourierActive
}

func (a Actor) assignedTo(o model.Order) bool {
	return a.CourierID != nil && o.CourierID != nil && *a.CourierID == *o.CourierID
}

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderWaitingForCourier: {model.OrderInDelivery, model.OrderCanceled},
	model.OrderInDelivery:        {model.OrderDelivered, model.OrderCanceled},
	model.OrderDelivered:         {model.OrderCompleted, model.OrderCanceled},
}

// Allowed сообщает, есть ли в таблице переходов переход from -> to.
func Allowed(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check проверяет переход заказа o в статус to от имени actor.
// Сначала проверяется допустимость перехода (*model.TransitionError),
// затем права (model.ErrForbidden).
func Check(o model.Order, actor Actor, to model.OrderStatus) error {
	if !Allowed(o.Status, to) {
		return &model.TransitionError{OrderID: o.ID, Current: o.Status, Target: to}
	}

	switch to {
	case model.OrderInDelivery:
		if o.CourierID != nil {
			return model.ErrClaimLost
		}
		if !actor.IsCourier() {
			return model.ErrForbidden
		}
	case model.OrderDelivered:
		if !actor.assignedTo(o) {
			return model.ErrForbidden
		}
	case model.OrderCompleted:
		if !actor.IsAdmin && !actor.assignedTo(o) {
			return model.ErrForbidden
		}
	case model.OrderCanceled:
		if actor.IsAdmin || actor.assignedTo(o) {
			return nil
		}
		if o.Status == model.OrderWaitingForCourier && actor.IsCourier() {
			return nil
		}
		return model.ErrForbidden
	}

	return nil
}
