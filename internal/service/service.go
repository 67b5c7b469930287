// Package service реализует бизнес-логику магазина: корзину, оформление и доставку заказов, роли.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/lifecycle"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
	"github.com/mmeshcher/shopbot/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error

	UpsertUser(ctx context.Context, id int64, username string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	SetUserBanned(ctx context.Context, id int64, banned bool) error
	UpdateUserLoyalty(ctx context.Context, u model.User) error

	HasRole(ctx context.Context, userID int64, role model.Role) (bool, error)
	GrantRole(ctx context.Context, userID int64, role model.Role) error
	RevokeRole(ctx context.Context, userID int64, role model.Role) error
	UsersWithRole(ctx context.Context, role model.Role) ([]int64, error)

	CreateItem(ctx context.Context, item model.Item) (*model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	CreatePromocode(ctx context.Context, p model.Promocode) (*model.Promocode, error)
	ListPromocodes(ctx context.Context) ([]model.Promocode, error)

	UpsertCourier(ctx context.Context, c model.Courier) (*model.Courier, error)
	CourierByUser(ctx context.Context, userID int64) (*model.Courier, error)
	GetCourier(ctx context.Context, id int64) (*model.Courier, error)
	SetCourierActive(ctx context.Context, userID int64, active bool) error
	ActiveCouriers(ctx context.Context) ([]model.Courier, error)

	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	OrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	OrdersByCourier(ctx context.Context, courierID int64) ([]model.Order, error)
	ClaimOrder(ctx context.Context, orderID, courierID int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from model.OrderStatus, courierID *int64, to model.OrderStatus) (*model.Order, error)

	AppendBotMessages(ctx context.Context, orderID int64, msgs []model.BotMessage) error
	TakeBotMessages(ctx context.Context, orderID int64) ([]model.BotMessage, error)
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	notifier notify.Dispatcher
	logger   *zap.Logger
}

// NewService создаёт сервис с указанным репозиторием и диспетчером уведомлений.
func NewService(repo Repository, notifier notify.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// actor определяет роли пользователя для проверки прав на переходы заказа.
func (s *Service) actor(ctx context.Context, userID int64) (lifecycle.Actor, *model.Courier, error) {
	a := lifecycle.Actor{UserID: userID}

	isAdmin, err := s.repo.HasRole(ctx, userID, model.RoleAdmin)
	if err != nil {
		return a, nil, fmt.Errorf("check admin role: %w", err)
	}
	a.IsAdmin = isAdmin

	courier, err := s.repo.CourierByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return a, nil, nil
		}
		return a, nil, fmt.Errorf("get courier: %w", err)
	}
	a.CourierID = &courier.ID
	a.CourierActive = courier.IsActive
	return a, courier, nil
}

func (s *Service) dispatch(ctx context.Context, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, ev)
}
