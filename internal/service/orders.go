package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/lifecycle"
	"github.com/mmeshcher/shopbot/internal/loyalty"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
	"github.com/mmeshcher/shopbot/internal/repository"
)

// Checkout оформляет заказ из корзины пользователя.
// Расчёт скидок, сохранение заказа, начисление штампов и очистка корзины выполняются в одной транзакции.
func (s *Service) Checkout(ctx context.Context, req model.CheckoutRequest) (*model.Order, error) {
	if req.DeliveryCost.IsNegative() {
		return nil, fmt.Errorf("%w: delivery cost must not be negative", model.ErrValidation)
	}

	var order model.Order
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			return model.ErrBanned
		}

		b, err := tx.LockBasket(ctx, req.UserID)
		if err != nil {
			return err
		}
		lines, err := tx.BasketLines(ctx, b.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return model.ErrEmptyBasket
		}

		alloc := loyalty.Allocate(u.Stamps, u.LoyaltyLevel, lines)
		total := alloc.Total

		var promoName string
		var promoPct int
		if code := strings.TrimSpace(req.Promocode); code != "" {
			promo, err := tx.ActivePromocode(ctx, code)
			if err != nil {
				return err
			}
			total, promoPct = loyalty.ApplyPromocode(total, promo)
			if promoPct > 0 {
				promoName = promo.Name
			}
		}
		total = total.Add(req.DeliveryCost)

		order = model.Order{
			UserID:       u.ID,
			Username:     u.Username,
			Telephone:    req.Telephone,
			Payment:      req.Payment,
			Delivery:     req.Delivery,
			Address:      req.Address,
			DeliveryCost: req.DeliveryCost,
			TotalPrice:   total,
			Promocode:    promoName,
			Discount:     promoPct,
			Status:       model.OrderWaitingForCourier,
			Lines:        make([]model.OrderLine, 0, len(alloc.Lines)),
		}
		if order.Telephone == "" && u.Username != "" {
			order.Telephone = "@" + u.Username
		}
		if alloc.Applied() {
			order.LoyaltyDiscount = alloc.DiscountPercent
		}

		purchased := 0
		for _, pl := range alloc.Lines {
			order.Lines = append(order.Lines, model.OrderLine{
				ItemID:             pl.ItemID,
				Name:               pl.Name,
				Quantity:           pl.Quantity,
				DiscountedQuantity: pl.DiscountedQuantity,
				PricePerItem:       pl.Price,
				TotalPrice:         pl.Total,
				SelectedTaste:      pl.SelectedTaste,
			})
			purchased += pl.Quantity
		}

		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}

		loyalty.Accrue(u, purchased)
		if err := tx.UpdateUserLoyalty(ctx, *u); err != nil {
			return err
		}

		return tx.ClearBasket(ctx, b.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalPrice.StringFixed(2)),
	)
	s.dispatch(ctx, notify.Event{Type: notify.EventCreated, Order: order})

	return &order, nil
}

// ClaimOrder назначает заказ курьеру. Из нескольких курьеров, взявших заказ одновременно, успешен один,
// остальные получают model.ErrClaimLost.
func (s *Service) ClaimOrder(ctx context.Context, orderID, courierUserID int64) (*model.Order, error) {
	actor, courier, err := s.actor(ctx, courierUserID)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.IsCourier() && o.CourierID != nil && (o.Status == model.OrderInDelivery || o.Status == model.OrderDelivered) {
		return nil, fmt.Errorf("order %d: %w", orderID, model.ErrClaimLost)
	}
	if err := lifecycle.Check(*o, actor, model.OrderInDelivery); err != nil {
		return nil, err
	}

	claimed, err := s.repo.ClaimOrder(ctx, orderID, courier.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order claimed", zap.Int64("order_id", orderID), zap.Int64("courier_id", courier.ID))
	s.dispatch(ctx, notify.Event{Type: notify.EventClaimed, Order: *claimed, Courier: courier})

	return claimed, nil
}

// AdvanceOrder переводит заказ в статус target от имени пользователя actorID.
func (s *Service) AdvanceOrder(ctx context.Context, orderID, actorID int64, target model.OrderStatus) (*model.Order, error) {
	switch target {
	case model.OrderInDelivery:
		return s.ClaimOrder(ctx, orderID, actorID)
	case model.OrderCanceled:
		return s.CancelOrder(ctx, orderID, actorID, "")
	case model.OrderWaitingForCourier, model.OrderDelivered, model.OrderCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, target)
	}

	actor, _, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(*o, actor, target); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, o.Status, o.CourierID, target)
	if err != nil {
		return nil, err
	}

	ev := notify.Event{Type: notify.EventDelivered, Order: *updated}
	if target == model.OrderCompleted {
		ev.Type = notify.EventCompleted
	}
	ev.Courier = s.assignedCourier(ctx, updated)

	s.logger.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)),
		zap.Int64("actor_id", actorID),
	)
	s.dispatch(ctx, ev)

	return updated, nil
}

// CheckCancel проверяет, может ли пользователь отменить заказ, не меняя его.
func (s *Service) CheckCancel(ctx context.Context, orderID, actorID int64) error {
	actor, _, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return lifecycle.Check(*o, actor, model.OrderCanceled)
}

// CancelOrder отменяет заказ. Причина передаётся покупателю, если отменяет курьер.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64, reason string) (*model.Order, error) {
	actor, _, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(*o, actor, model.OrderCanceled); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, o.Status, o.CourierID, model.OrderCanceled)
	if err != nil {
		return nil, err
	}

	ev := notify.Event{
		Type:            notify.EventCanceled,
		Order:           *updated,
		Courier:         s.assignedCourier(ctx, updated),
		Reason:          strings.TrimSpace(reason),
		CanceledByAdmin: actor.IsAdmin,
	}

	s.logger.Info("order canceled",
		zap.Int64("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.Int64("actor_id", actorID),
		zap.Bool("by_admin", actor.IsAdmin),
	)
	s.dispatch(ctx, ev)

	return updated, nil
}

func (s *Service) assignedCourier(ctx context.Context, o *model.Order) *model.Courier {
	if o.CourierID == nil {
		return nil
	}
	c, err := s.repo.GetCourier(ctx, *o.CourierID)
	if err != nil {
		s.logger.Warn("load assigned courier", zap.Error(err), zap.Int64("order_id", o.ID))
		return nil
	}
	return c
}

// GetOrder возвращает заказ. Покупатель видит только свои заказы, курьеры и администраторы - любые.
func (s *Service) GetOrder(ctx context.Context, orderID, userID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID == userID {
		return o, nil
	}

	actor, _, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && actor.CourierID == nil {
		return nil, model.ErrForbidden
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.OrdersByUser(ctx, userID)
}

// WaitingOrders возвращает заказы, ожидающие курьера. Доступно курьерам и администраторам.
func (s *Service) WaitingOrders(ctx context.Context, actorID int64) ([]model.Order, error) {
	actor, _, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && !actor.IsCourier() {
		return nil, model.ErrForbidden
	}
	return s.repo.OrdersByStatus(ctx, model.OrderWaitingForCourier)
}

// CourierOrders возвращает незавершённые заказы курьера.
func (s *Service) CourierOrders(ctx context.Context, courierUserID int64) ([]model.Order, error) {
	courier, err := s.repo.CourierByUser(ctx, courierUserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrForbidden
		}
		return nil, err
	}
	return s.repo.OrdersByCourier(ctx, courier.ID)
}
