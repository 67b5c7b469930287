package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	deleted  []tgbotapi.DeleteMessageConfig
	failChat int64
	nextID   int

	// Отправка в holdChat ждёт закрытия hold.
	holdChat int64
	hold     chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok && f.hold != nil && msg.ChatID == f.holdChat {
		<-f.hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if msg.ChatID == f.failChat {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	f.nextID++
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: f.nextID, Chat: &tgbotapi.Chat{ID: msg.ChatID}}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if del, ok := c.(tgbotapi.DeleteMessageConfig); ok {
		f.deleted = append(f.deleted, del)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) chats() map[int64]tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := make(map[int64]tgbotapi.MessageConfig)
	for _, m := range f.sent {
		res[m.ChatID] = m
	}
	return res
}

type fakeDirectory struct {
	mu       sync.Mutex
	couriers []model.Courier
	admins   []int64
	tracked  map[int64][]model.BotMessage
}

func (d *fakeDirectory) ActiveCouriers(context.Context) ([]model.Courier, error) {
	return d.couriers, nil
}

func (d *fakeDirectory) UsersWithRole(context.Context, model.Role) ([]int64, error) {
	return d.admins, nil
}

func (d *fakeDirectory) AppendBotMessages(_ context.Context, orderID int64, msgs []model.BotMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tracked == nil {
		d.tracked = make(map[int64][]model.BotMessage)
	}
	d.tracked[orderID] = append(d.tracked[orderID], msgs...)
	return nil
}

func (d *fakeDirectory) TakeBotMessages(_ context.Context, orderID int64) ([]model.BotMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.tracked[orderID]
	delete(d.tracked, orderID)
	return msgs, nil
}

func testOrder() model.Order {
	return model.Order{
		ID:         5,
		UserID:     100,
		Username:   "alice",
		Telephone:  "+79990000000",
		TotalPrice: decimal.NewFromInt(275),
		Status:     model.OrderWaitingForCourier,
		Lines: []model.OrderLine{
			{ItemID: 1, Name: "Tea", Quantity: 3, DiscountedQuantity: 1, PricePerItem: decimal.NewFromInt(100), TotalPrice: decimal.NewFromInt(275)},
		},
	}
}

func TestTelegramDispatcher_CreatedBroadcast(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{
		couriers: []model.Courier{{ID: 1, UserID: 200, IsActive: true}, {ID: 2, UserID: 300, IsActive: true}},
		admins:   []int64{300, 400},
	}
	d := NewTelegramDispatcher(sender, dir, zap.NewNop())

	d.Dispatch(context.Background(), Event{Type: EventCreated, Order: testOrder()})
	d.Wait()

	chats := sender.chats()
	require.Len(t, chats, 4, "customer plus three distinct staff members")
	assert.Contains(t, chats[100].Text, "Ваш заказ принят")
	assert.Nil(t, chats[100].ReplyMarkup)

	for _, id := range []int64{200, 300, 400} {
		msg := chats[id]
		assert.Contains(t, msg.Text, "Поступил новый заказ")
		kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		require.True(t, ok)
		assert.Equal(t, "claim:5", *kb.InlineKeyboard[0][0].CallbackData)
		assert.Equal(t, "cancel:5", *kb.InlineKeyboard[0][1].CallbackData)
	}

	assert.Len(t, dir.tracked[5], 3)
}

func TestTelegramDispatcher_FailuresAreSwallowed(t *testing.T) {
	sender := &fakeSender{failChat: 200}
	dir := &fakeDirectory{couriers: []model.Courier{{ID: 1, UserID: 200, IsActive: true}, {ID: 2, UserID: 201, IsActive: true}}}
	d := NewTelegramDispatcher(sender, dir, zap.NewNop())

	d.Dispatch(context.Background(), Event{Type: EventCreated, Order: testOrder()})
	d.Wait()

	chats := sender.chats()
	assert.Contains(t, chats, int64(100))
	assert.Contains(t, chats, int64(201))
	assert.NotContains(t, chats, int64(200))
	assert.Len(t, dir.tracked[5], 1)
}

func TestTelegramDispatcher_CanceledCleansUpAndNotifiesCourier(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{tracked: map[int64][]model.BotMessage{
		5: {{ChatID: 200, MessageID: 11}, {ChatID: 300, MessageID: 12}},
	}}
	d := NewTelegramDispatcher(sender, dir, zap.NewNop())

	o := testOrder()
	o.Status = model.OrderCanceled
	courier := &model.Courier{ID: 1, UserID: 200}

	d.Dispatch(context.Background(), Event{Type: EventCanceled, Order: o, Courier: courier, Reason: "клиент не отвечает"})
	d.Wait()

	assert.Len(t, sender.deleted, 2)
	assert.Empty(t, dir.tracked[5])

	chats := sender.chats()
	assert.Contains(t, chats[100].Text, "Причина: клиент не отвечает")
	assert.Contains(t, chats[200].Text, "отменен")
}

func TestTelegramDispatcher_AdminCancelHasNoReason(t *testing.T) {
	sender := &fakeSender{}
	d := NewTelegramDispatcher(sender, &fakeDirectory{}, zap.NewNop())

	o := testOrder()
	o.Status = model.OrderCanceled
	d.Dispatch(context.Background(), Event{Type: EventCanceled, Order: o, CanceledByAdmin: true, Reason: "ignored"})
	d.Wait()

	text := sender.chats()[100].Text
	assert.False(t, strings.Contains(text, "Причина"))
}

func TestTelegramDispatcher_ClaimedIncludesCourierContacts(t *testing.T) {
	sender := &fakeSender{}
	d := NewTelegramDispatcher(sender, &fakeDirectory{}, zap.NewNop())

	o := testOrder()
	o.Status = model.OrderInDelivery
	courier := &model.Courier{ID: 1, UserID: 200, Username: "bob", Phone: "+7000", CarModel: "Lada"}
	d.Dispatch(context.Background(), Event{Type: EventClaimed, Order: o, Courier: courier})
	d.Wait()

	chats := sender.chats()
	assert.Contains(t, chats[100].Text, "@bob")
	assert.Contains(t, chats[100].Text, "Lada")
	kb, ok := chats[200].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "deliver:5", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestTelegramDispatcher_ClaimWaitsForSlowBroadcast(t *testing.T) {
	sender := &fakeSender{holdChat: 300, hold: make(chan struct{})}
	dir := &fakeDirectory{
		couriers: []model.Courier{{ID: 1, UserID: 200, IsActive: true}, {ID: 2, UserID: 300, IsActive: true}},
	}
	d := NewTelegramDispatcher(sender, dir, zap.NewNop())

	created := testOrder()
	claimed := testOrder()
	claimed.Status = model.OrderInDelivery
	courier := &model.Courier{ID: 1, UserID: 200, Username: "bob"}

	d.Dispatch(context.Background(), Event{Type: EventCreated, Order: created})
	d.Dispatch(context.Background(), Event{Type: EventClaimed, Order: claimed, Courier: courier})

	time.Sleep(20 * time.Millisecond)
	sender.mu.Lock()
	deletedEarly := len(sender.deleted)
	sender.mu.Unlock()
	assert.Zero(t, deletedEarly)

	close(sender.hold)
	d.Wait()

	sender.mu.Lock()
	var deletedChats []int64
	for _, del := range sender.deleted {
		deletedChats = append(deletedChats, del.ChatID)
	}
	sender.mu.Unlock()
	assert.ElementsMatch(t, []int64{200, 300}, deletedChats)

	dir.mu.Lock()
	left := dir.tracked[created.ID]
	dir.mu.Unlock()
	require.Len(t, left, 1)
	assert.Equal(t, int64(200), left[0].ChatID)

	d.mu.Lock()
	assert.Empty(t, d.tails)
	d.mu.Unlock()
}

func TestParseCallbackData(t *testing.T) {
	action, id, err := ParseCallbackData("claim:42")
	require.NoError(t, err)
	assert.Equal(t, ActionClaim, action)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "claim", "claim:", "claim:x", "steal:1", "finish:-3"} {
		_, _, err := ParseCallbackData(bad)
		assert.Error(t, err, bad)
	}
}

func TestCourierKeyboard_TerminalIsEmpty(t *testing.T) {
	assert.Nil(t, CourierKeyboard(1, model.OrderCompleted))
	assert.Nil(t, CourierKeyboard(1, model.OrderCanceled))

	kb := CourierKeyboard(1, model.OrderDelivered)
	require.NotNil(t, kb)
	assert.Equal(t, "finish:1", *kb.InlineKeyboard[0][0].CallbackData)
}
