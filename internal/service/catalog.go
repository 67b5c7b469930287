package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/shopbot/internal/model"
)

// CreateItem добавляет товар в каталог.
func (s *Service) CreateItem(ctx context.Context, actorID int64, item model.Item) (*model.Item, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return nil, fmt.Errorf("%w: item name is required", model.ErrValidation)
	}
	if item.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", model.ErrValidation)
	}
	return s.repo.CreateItem(ctx, item)
}

// ListItems возвращает каталог.
func (s *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	return s.repo.ListItems(ctx)
}

// CreatePromocode добавляет промокод.
func (s *Service) CreatePromocode(ctx context.Context, actorID int64, p model.Promocode) (*model.Promocode, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: promocode name is required", model.ErrValidation)
	}
	if p.Percentage < 1 || p.Percentage > 100 {
		return nil, fmt.Errorf("%w: percentage must be in 1..100", model.ErrValidation)
	}
	return s.repo.CreatePromocode(ctx, p)
}

// ListPromocodes возвращает промокоды.
func (s *Service) ListPromocodes(ctx context.Context) ([]model.Promocode, error) {
	return s.repo.ListPromocodes(ctx)
}
