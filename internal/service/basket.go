package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/mmeshcher/shopbot/internal/loyalty"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
)

// RegisterUser регистрирует пользователя Telegram или обновляет его имя.
func (s *Service) RegisterUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", model.ErrValidation)
	}
	return s.repo.UpsertUser(ctx, userID, username)
}

// GetLoyalty возвращает карточку лояльности пользователя.
func (s *Service) GetLoyalty(ctx context.Context, userID int64) (model.LoyaltyCard, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return model.LoyaltyCard{}, err
	}
	return loyalty.Card(*u), nil
}

// GetOrCreateBasket возвращает корзину пользователя, создавая её при первом обращении.
func (s *Service) GetOrCreateBasket(ctx context.Context, userID int64) (*model.Basket, error) {
	var basket *model.Basket
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBasket(ctx, userID)
		basket = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return basket, nil
}

// BasketView возвращает корзину с предварительным расчётом скидки лояльности.
// Окончательная сумма пересчитывается при оформлении заказа.
func (s *Service) BasketView(ctx context.Context, userID int64) (*model.BasketSnapshot, error) {
	var snap model.BasketSnapshot
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		b, err := tx.LockBasket(ctx, userID)
		if err != nil {
			return err
		}
		lines, err := tx.BasketLines(ctx, b.ID)
		if err != nil {
			return err
		}
		snap = snapshot(u, lines)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// AddLine добавляет товар в корзину. Повторное добавление того же товара и вкуса увеличивает количество.
// Цена позиции фиксируется в момент первого добавления.
func (s *Service) AddLine(ctx context.Context, userID, itemID int64, quantity int, taste string) (*model.BasketSnapshot, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", model.ErrValidation)
	}

	var snap model.BasketSnapshot
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			return model.ErrBanned
		}

		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if taste != "" && len(item.Tastes) > 0 && !slices.Contains(item.Tastes, taste) {
			return fmt.Errorf("%w: item %d has no taste %q", model.ErrValidation, itemID, taste)
		}

		b, err := tx.LockBasket(ctx, userID)
		if err != nil {
			return err
		}

		err = tx.AddBasketLine(ctx, model.BasketLine{
			BasketID:      b.ID,
			ItemID:        item.ID,
			Quantity:      quantity,
			Price:         item.Price,
			SelectedTaste: taste,
		})
		if err != nil {
			return err
		}

		snap, err = recompute(ctx, tx, u, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// RemoveLine удаляет из корзины все позиции товара, независимо от вкуса.
func (s *Service) RemoveLine(ctx context.Context, userID, itemID int64) (*model.BasketSnapshot, error) {
	var snap model.BasketSnapshot
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			return model.ErrBanned
		}

		b, err := tx.LockBasket(ctx, userID)
		if err != nil {
			return err
		}

		removed, err := tx.RemoveBasketItem(ctx, b.ID, itemID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return fmt.Errorf("item %d in basket: %w", itemID, model.ErrNotFound)
		}

		snap, err = recompute(ctx, tx, u, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func recompute(ctx context.Context, tx repository.Tx, u *model.User, basketID int64) (model.BasketSnapshot, error) {
	lines, err := tx.BasketLines(ctx, basketID)
	if err != nil {
		return model.BasketSnapshot{}, err
	}

	snap := snapshot(u, lines)
	if err := tx.SetBasketTotal(ctx, basketID, snap.TotalPrice); err != nil {
		return model.BasketSnapshot{}, err
	}
	return snap, nil
}

func snapshot(u *model.User, lines []model.BasketLine) model.BasketSnapshot {
	alloc := loyalty.Allocate(u.Stamps, u.LoyaltyLevel, lines)

	snap := model.BasketSnapshot{
		UserID:                 u.ID,
		Lines:                  alloc.Lines,
		TotalPrice:             alloc.Total,
		LoyaltyDiscountApplied: alloc.Applied(),
		DiscountedUnits:        alloc.DiscountedUnits,
		Stamps:                 u.Stamps,
		LoyaltyLevel:           u.LoyaltyLevel,
	}
	if alloc.Applied() {
		snap.LoyaltyDiscountPercent = alloc.DiscountPercent
	}
	return snap
}
