// Package repository содержит хранилища данных магазина: PostgreSQL и in-memory.
package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/model"
)

// Tx описывает операции, выполняемые внутри одной транзакции.
// Все изменения Tx применяются атомарно при успешном завершении InTx.
type Tx interface {
	// LockUser возвращает пользователя и блокирует его строку до конца транзакции.
	LockUser(ctx context.Context, userID int64) (*model.User, error)
	// UpdateUserLoyalty сохраняет штампы, уровень и счётчик покупок пользователя.
	UpdateUserLoyalty(ctx context.Context, u model.User) error

	// LockBasket возвращает корзину пользователя, создавая её при необходимости.
	LockBasket(ctx context.Context, userID int64) (*model.Basket, error)
	BasketLines(ctx context.Context, basketID int64) ([]model.BasketLine, error)
	// AddBasketLine добавляет позицию или увеличивает количество существующей с тем же (item, taste).
	AddBasketLine(ctx context.Context, line model.BasketLine) error
	// RemoveBasketItem удаляет все позиции товара и возвращает число удалённых строк.
	RemoveBasketItem(ctx context.Context, basketID, itemID int64) (int64, error)
	SetBasketTotal(ctx context.Context, basketID int64, total decimal.Decimal) error
	ClearBasket(ctx context.Context, basketID int64) error

	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	// ActivePromocode возвращает активный промокод или nil, если такого нет.
	ActivePromocode(ctx context.Context, name string) (*model.Promocode, error)

	// InsertOrder сохраняет заказ с позициями и заполняет ID и CreatedAt.
	InsertOrder(ctx context.Context, o *model.Order) error
}
