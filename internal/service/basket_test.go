package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/shopbot/internal/model"
)

func requireConsistent(t *testing.T, snap *model.BasketSnapshot) {
	t.Helper()
	sum := decimal.Zero
	for _, l := range snap.Lines {
		sum = sum.Add(l.Total)
	}
	require.True(t, sum.Equal(snap.TotalPrice), "sum of lines %s != total %s", sum, snap.TotalPrice)
}

func TestAddLine_LoyaltyPreview(t *testing.T) {
	f := newFixture(t)
	f.setStamps(t, customerID, 4, model.LoyaltyWhite)
	it := f.item(t, "Tea", 100)

	snap, err := f.svc.AddLine(f.ctx, customerID, it.ID, 3, "")
	require.NoError(t, err)

	requireConsistent(t, snap)
	assert.True(t, snap.TotalPrice.Equal(decimal.NewFromInt(275)), "total = %s", snap.TotalPrice)
	assert.True(t, snap.LoyaltyDiscountApplied)
	assert.Equal(t, 25, snap.LoyaltyDiscountPercent)
	assert.Equal(t, 1, snap.DiscountedUnits)
}

func TestAddLine_MergesSameItemAndTaste(t *testing.T) {
	f := newFixture(t)
	it := f.item(t, "Juice", 50, "apple", "cherry")

	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "apple")
	require.NoError(t, err)
	_, err = f.svc.AddLine(f.ctx, customerID, it.ID, 2, "apple")
	require.NoError(t, err)
	snap, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "cherry")
	require.NoError(t, err)

	require.Len(t, snap.Lines, 2)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
	assert.Equal(t, "apple", snap.Lines[0].SelectedTaste)
	assert.Equal(t, 1, snap.Lines[1].Quantity)
	requireConsistent(t, snap)
}

func TestAddLine_SnapshotsItemPrice(t *testing.T) {
	f := newFixture(t)
	it := f.item(t, "Cake", 300)

	snap, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "")
	require.NoError(t, err)
	assert.True(t, snap.Lines[0].Price.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "Cake", snap.Lines[0].Name)
}

func TestAddLine_Errors(t *testing.T) {
	f := newFixture(t)
	it := f.item(t, "Juice", 50, "apple")

	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 0, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.AddLine(f.ctx, customerID, 9999, 1, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.AddLine(f.ctx, 555, it.ID, 1, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.AddLine(f.ctx, customerID, it.ID, 1, "banana")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAddLine_BannedUser(t *testing.T) {
	f := newFixture(t)
	it := f.item(t, "Tea", 10)
	require.NoError(t, f.svc.BanUser(f.ctx, adminID, customerID))

	_, err := f.svc.AddLine(f.ctx, customerID, it.ID, 1, "")
	assert.ErrorIs(t, err, model.ErrBanned)
	assert.ErrorIs(t, err, model.ErrForbidden)

	require.NoError(t, f.svc.UnbanUser(f.ctx, adminID, customerID))
	_, err = f.svc.AddLine(f.ctx, customerID, it.ID, 1, "")
	assert.NoError(t, err)
}

func TestRemoveLine_RemovesAllTastes(t *testing.T) {
	f := newFixture(t)
	juice := f.item(t, "Juice", 50, "apple", "cherry")
	tea := f.item(t, "Tea", 20)

	for _, taste := range []string{"apple", "cherry"} {
		_, err := f.svc.AddLine(f.ctx, customerID, juice.ID, 1, taste)
		require.NoError(t, err)
	}
	_, err := f.svc.AddLine(f.ctx, customerID, tea.ID, 2, "")
	require.NoError(t, err)

	snap, err := f.svc.RemoveLine(f.ctx, customerID, juice.ID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, tea.ID, snap.Lines[0].ItemID)
	assert.True(t, snap.TotalPrice.Equal(decimal.NewFromInt(40)))
	requireConsistent(t, snap)

	_, err = f.svc.RemoveLine(f.ctx, customerID, juice.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBasketView_EmptyAndLazy(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.BasketView(f.ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.True(t, snap.TotalPrice.IsZero())

	b1, err := f.svc.GetOrCreateBasket(f.ctx, customerID)
	require.NoError(t, err)
	b2, err := f.svc.GetOrCreateBasket(f.ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, b2.ID)

	_, err = f.svc.BasketView(f.ctx, 4242)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
