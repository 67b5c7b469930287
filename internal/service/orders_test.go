package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
	"github.com/mmeshcher/shopbot/internal/repository"
)

func TestCheckout_SnapshotsBasketAndAccrues(t *testing.T) {
	f := newFixture(t)
	f.setStamps(t, customerID, 4, model.LoyaltyWhite)
	it := f.item(t, "Tea", 100)

	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 3, "")
	require.NoError(t, err)

	o, err := f.svc.Checkout(f.ctx, model.CheckoutRequest{
		UserID:       customerID,
		Payment:      "cash",
		Delivery:     "courier",
		Address:      "Lenina 1",
		DeliveryCost: decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	assert.Equal(t, model.OrderWaitingForCourier, o.Status)
	assert.Nil(t, o.CourierID)
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(325)), "total = %s", o.TotalPrice)
	assert.Equal(t, 25, o.LoyaltyDiscount)
	assert.Equal(t, "@alice", o.Telephone)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 1, o.Lines[0].DiscountedQuantity)
	assert.True(t, o.Lines[0].TotalPrice.Equal(decimal.NewFromInt(275)))

	card, err := f.svc.GetLoyalty(f.ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, 1, card.Stamps)
	assert.Equal(t, model.LoyaltyPlatinum, card.LoyaltyLevel)
	assert.Equal(t, 3, card.TotalItemsPurchased)

	snap, err := f.svc.BasketView(f.ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.True(t, snap.TotalPrice.IsZero())

	assert.Equal(t, []notify.EventType{notify.EventCreated}, f.events.types())
}

func TestCheckout_StampRollover(t *testing.T) {
	f := newFixture(t)
	f.setStamps(t, customerID, 5, model.LoyaltyPlatinum)
	it := f.item(t, "Tea", 10)

	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.Checkout(f.ctx, model.CheckoutRequest{UserID: customerID})
	require.NoError(t, err)

	card, err := f.svc.GetLoyalty(f.ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, 0, card.Stamps)
	assert.Equal(t, model.LoyaltyBlack, card.LoyaltyLevel)
}

func TestCheckout_Promocode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantTotal int64
		wantPct   int
	}{
		{"active code", "SALE10", 200, 10},
		{"code is case insensitive", "sale10", 200, 10},
		{"inactive code ignored", "OLD", 220, 0},
		{"unknown code ignored", "NOPE", 220, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			it := f.item(t, "Tea", 100)
			_, err := f.svc.CreatePromocode(f.ctx, adminID, model.Promocode{Name: "SALE10", Percentage: 10, IsActive: true})
			require.NoError(t, err)
			_, err = f.svc.CreatePromocode(f.ctx, adminID, model.Promocode{Name: "OLD", Percentage: 50, IsActive: false})
			require.NoError(t, err)

			_, err = f.svc.AddLine(f.ctx, customerID, it.ID, 2, "")
			require.NoError(t, err)

			o, err := f.svc.Checkout(f.ctx, model.CheckoutRequest{
				UserID:       customerID,
				Telephone:    "+79990001122",
				Promocode:    tt.code,
				DeliveryCost: decimal.NewFromInt(20),
			})
			require.NoError(t, err)
			// Delivery cost is added after the promocode discount.
			assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(tt.wantTotal)), "total = %s", o.TotalPrice)
			assert.Equal(t, tt.wantPct, o.Discount)
			assert.Equal(t, "+79990001122", o.Telephone)
		})
	}
}

func TestCheckout_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(f.ctx, model.CheckoutRequest{UserID: customerID})
	assert.ErrorIs(t, err, model.ErrEmptyBasket)

	_, err = f.svc.Checkout(f.ctx, model.CheckoutRequest{UserID: 4242})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Checkout(f.ctx, model.CheckoutRequest{UserID: customerID, DeliveryCost: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Empty(t, f.events.types())
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (r failingRepo) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return r.MemoryRepository.InTx(ctx, func(tx repository.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	repository.Tx
}

func (failingTx) ClearBasket(context.Context, int64) error {
	return errors.New("disk full")
}

func TestCheckout_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.setStamps(t, customerID, 3, model.LoyaltyWhite)
	it := f.item(t, "Tea", 100)
	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 4, "")
	require.NoError(t, err)

	broken := NewService(failingRepo{f.repo}, f.events, zap.NewNop())
	_, err = broken.Checkout(f.ctx, model.CheckoutRequest{UserID: customerID})
	require.Error(t, err)

	orders, err := f.svc.GetOrdersByUser(f.ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, orders)

	card, err := f.svc.GetLoyalty(f.ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, 3, card.Stamps)
	assert.Equal(t, model.LoyaltyWhite, card.LoyaltyLevel)
	assert.Equal(t, 0, card.TotalItemsPurchased)

	snap, err := f.svc.BasketView(f.ctx, customerID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 4, snap.Lines[0].Quantity)

	assert.Empty(t, f.events.types())
}

func TestClaimOrder_ConcurrentCouriers(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	const n = 8
	couriers := make([]*model.Courier, n)
	for i := range couriers {
		couriers[i] = f.courier(t, int64(200+i), "courier")
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []int64
		losses int
		other  []error
	)
	for _, c := range couriers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ClaimOrder(f.ctx, o.ID, c.UserID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, c.ID)
			case errors.Is(err, model.ErrClaimLost):
				losses++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, wins, 1)
	assert.Equal(t, n-1, losses)

	got, err := f.svc.GetOrder(f.ctx, o.ID, customerID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderInDelivery, got.Status)
	require.NotNil(t, got.CourierID)
	assert.Equal(t, wins[0], *got.CourierID)
}

func TestClaimOrder_Guards(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	_, err := f.svc.ClaimOrder(f.ctx, o.ID, customerID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	c := f.courier(t, 200, "bob")
	require.NoError(t, f.svc.SetCourierActive(f.ctx, adminID, c.UserID, false))
	_, err = f.svc.ClaimOrder(f.ctx, o.ID, c.UserID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.ClaimOrder(f.ctx, 9999, c.UserID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.svc.SetCourierActive(f.ctx, adminID, c.UserID, true))
	_, err = f.svc.CancelOrder(f.ctx, o.ID, adminID, "")
	require.NoError(t, err)

	_, err = f.svc.ClaimOrder(f.ctx, o.ID, c.UserID)
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.OrderCanceled, te.Current)
}

func TestOrderLifecycle_HappyPath(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	c := f.courier(t, 200, "bob")

	claimed, err := f.svc.ClaimOrder(f.ctx, o.ID, c.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderInDelivery, claimed.Status)
	assert.Equal(t, "bob", f.events.last().Courier.Username)

	delivered, err := f.svc.AdvanceOrder(f.ctx, o.ID, c.UserID, model.OrderDelivered)
	require.NoError(t, err)
	assert.Equal(t, model.OrderDelivered, delivered.Status)

	completed, err := f.svc.AdvanceOrder(f.ctx, o.ID, c.UserID, model.OrderCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, completed.Status)

	assert.Equal(t, []notify.EventType{
		notify.EventCreated,
		notify.EventClaimed,
		notify.EventDelivered,
		notify.EventCompleted,
	}, f.events.types())

	_, err = f.svc.CancelOrder(f.ctx, o.ID, adminID, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestAdvanceOrder_RejectsWithoutChangingState(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	assigned := f.courier(t, 200, "bob")
	other := f.courier(t, 201, "eve")

	_, err := f.svc.AdvanceOrder(f.ctx, o.ID, assigned.UserID, model.OrderDelivered)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.svc.ClaimOrder(f.ctx, o.ID, assigned.UserID)
	require.NoError(t, err)

	_, err = f.svc.AdvanceOrder(f.ctx, o.ID, other.UserID, model.OrderDelivered)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.AdvanceOrder(f.ctx, o.ID, assigned.UserID, model.OrderCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.svc.AdvanceOrder(f.ctx, o.ID, adminID, model.OrderWaitingForCourier)
	var terr *model.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.OrderInDelivery, terr.Current)
	assert.NotErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.AdvanceOrder(f.ctx, o.ID, assigned.UserID, "lost")
	assert.ErrorIs(t, err, model.ErrValidation)

	got, err := f.svc.GetOrder(f.ctx, o.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderInDelivery, got.Status)
	assert.Equal(t, assigned.ID, *got.CourierID)
}

func TestCheckCancel(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	c := f.courier(t, 200, "bob")

	assert.ErrorIs(t, f.svc.CheckCancel(f.ctx, o.ID, customerID), model.ErrForbidden)
	assert.NoError(t, f.svc.CheckCancel(f.ctx, o.ID, c.UserID))
	assert.NoError(t, f.svc.CheckCancel(f.ctx, o.ID, adminID))
	assert.ErrorIs(t, f.svc.CheckCancel(f.ctx, 9999, c.UserID), model.ErrNotFound)

	got, err := f.svc.GetOrder(f.ctx, o.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderWaitingForCourier, got.Status)
	assert.NotContains(t, f.events.types(), notify.EventCanceled)
}

func TestCancelOrder_Rules(t *testing.T) {
	t.Run("any active courier cancels a waiting order with reason", func(t *testing.T) {
		f := newFixture(t)
		o := f.order(t)
		c := f.courier(t, 200, "bob")

		got, err := f.svc.CancelOrder(f.ctx, o.ID, c.UserID, " no stock ")
		require.NoError(t, err)
		assert.Equal(t, model.OrderCanceled, got.Status)

		ev := f.events.last()
		assert.Equal(t, notify.EventCanceled, ev.Type)
		assert.Equal(t, "no stock", ev.Reason)
		assert.False(t, ev.CanceledByAdmin)
	})

	t.Run("customer cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		o := f.order(t)

		_, err := f.svc.CancelOrder(f.ctx, o.ID, customerID, "")
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("only assigned courier or admin cancels in delivery", func(t *testing.T) {
		f := newFixture(t)
		o := f.order(t)
		assigned := f.courier(t, 200, "bob")
		other := f.courier(t, 201, "eve")

		_, err := f.svc.ClaimOrder(f.ctx, o.ID, assigned.UserID)
		require.NoError(t, err)

		_, err = f.svc.CancelOrder(f.ctx, o.ID, other.UserID, "")
		assert.ErrorIs(t, err, model.ErrForbidden)

		_, err = f.svc.CancelOrder(f.ctx, o.ID, assigned.UserID, "client unreachable")
		require.NoError(t, err)

		ev := f.events.last()
		require.NotNil(t, ev.Courier)
		assert.Equal(t, assigned.ID, ev.Courier.ID)
	})

	t.Run("admin cancels after delivery", func(t *testing.T) {
		f := newFixture(t)
		o := f.order(t)
		c := f.courier(t, 200, "bob")

		_, err := f.svc.ClaimOrder(f.ctx, o.ID, c.UserID)
		require.NoError(t, err)
		_, err = f.svc.AdvanceOrder(f.ctx, o.ID, c.UserID, model.OrderDelivered)
		require.NoError(t, err)

		got, err := f.svc.AdvanceOrder(f.ctx, o.ID, adminID, model.OrderCanceled)
		require.NoError(t, err)
		assert.Equal(t, model.OrderCanceled, got.Status)
		assert.True(t, f.events.last().CanceledByAdmin)
	})
}

func TestOrderQueries(t *testing.T) {
	f := newFixture(t)
	first := f.order(t)
	second := f.order(t)
	c := f.courier(t, 200, "bob")

	_, err := f.svc.WaitingOrders(f.ctx, customerID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	waiting, err := f.svc.WaitingOrders(f.ctx, c.UserID)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	_, err = f.svc.ClaimOrder(f.ctx, first.ID, c.UserID)
	require.NoError(t, err)

	active, err := f.svc.CourierOrders(f.ctx, c.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	_, err = f.svc.CourierOrders(f.ctx, customerID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	mine, err := f.svc.GetOrdersByUser(f.ctx, customerID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)

	_, err = f.svc.RegisterUser(f.ctx, 300, "mallory")
	require.NoError(t, err)
	_, err = f.svc.GetOrder(f.ctx, first.ID, 300)
	assert.ErrorIs(t, err, model.ErrForbidden)
}
