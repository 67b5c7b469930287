package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается, если пользователь, товар, корзина или заказ не найдены.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrBanned возвращается для заблокированного пользователя. Совместима с ErrForbidden.
	ErrBanned = fmt.Errorf("%w: user is banned", ErrForbidden)
	// ErrInvalidTransition возвращается, если переход заказа недопустим в текущем статусе.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrEmptyBasket возвращается при оформлении заказа из пустой корзины.
	ErrEmptyBasket = errors.New("basket is empty")
	// ErrClaimLost возвращается курьеру, если заказ уже взят другим курьером.
	ErrClaimLost = errors.New("order already taken by another courier")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists возвращается при нарушении уникальности.
	ErrAlreadyExists = errors.New("already exists")
)

// TransitionError описывает отклонённый переход и текущий статус заказа.
type TransitionError struct {
	OrderID int64
	Current OrderStatus
	Target  OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot move from %s to %s", e.OrderID, e.Current, e.Target)
}

// Is позволяет сравнивать ошибку с ErrInvalidTransition через errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
