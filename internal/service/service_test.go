package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
	"github.com/mmeshcher/shopbot/internal/repository"
)

const (
	adminID    int64 = 1
	customerID int64 = 100
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) types() []notify.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]notify.EventType, 0, len(d.events))
	for _, ev := range d.events {
		res = append(res, ev.Type)
	}
	return res
}

func (d *recordingDispatcher) last() notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

type fixture struct {
	ctx    context.Context
	repo   *repository.MemoryRepository
	events *recordingDispatcher
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:    context.Background(),
		repo:   repository.NewMemoryRepository(),
		events: &recordingDispatcher{},
	}
	f.svc = NewService(f.repo, f.events, zap.NewNop())

	require.NoError(t, f.svc.EnsureAdmin(f.ctx, adminID))
	_, err := f.svc.RegisterUser(f.ctx, customerID, "alice")
	require.NoError(t, err)

	return f
}

func (f *fixture) item(t *testing.T, name string, price int64, tastes ...string) *model.Item {
	t.Helper()
	it, err := f.svc.CreateItem(f.ctx, adminID, model.Item{Name: name, Price: decimal.NewFromInt(price), Tastes: tastes})
	require.NoError(t, err)
	return it
}

func (f *fixture) courier(t *testing.T, userID int64, username string) *model.Courier {
	t.Helper()
	_, err := f.svc.RegisterUser(f.ctx, userID, username)
	require.NoError(t, err)
	c, err := f.svc.AddCourier(f.ctx, adminID, model.Courier{UserID: userID, Phone: "+7000" + username, CarModel: "Lada"})
	require.NoError(t, err)
	return c
}

func (f *fixture) setStamps(t *testing.T, userID int64, stamps int, level model.LoyaltyLevel) {
	t.Helper()
	_, err := f.svc.OverrideLoyalty(f.ctx, adminID, userID, LoyaltyOverride{Stamps: stamps, Level: level})
	require.NoError(t, err)
}

func (f *fixture) order(t *testing.T) *model.Order {
	t.Helper()
	it := f.item(t, "Tea", 100)
	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "")
	require.NoError(t, err)
	o, err := f.svc.Checkout(f.ctx, model.CheckoutRequest{UserID: customerID, Address: "Lenina 1"})
	require.NoError(t, err)
	return o
}
