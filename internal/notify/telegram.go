package notify

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

// Sender - часть API Telegram, нужная диспетчеру. Реализуется *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type outgoing struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
	track    bool
}

// TelegramDispatcher рассылает уведомления через Telegram.
// Каждому получателю сообщение отправляется в отдельной горутине.
// События одного заказа обрабатываются строго в порядке вызова Dispatch:
// очистка следующего события начинается после того, как предыдущее сохранило свои сообщения.
type TelegramDispatcher struct {
	sender Sender
	dir    Directory
	logger *zap.Logger

	mu    sync.Mutex
	tails map[int64]chan struct{}

	wg sync.WaitGroup
}

// NewTelegramDispatcher создаёт диспетчер уведомлений Telegram.
func NewTelegramDispatcher(sender Sender, dir Directory, logger *zap.Logger) *TelegramDispatcher {
	return &TelegramDispatcher{
		sender: sender,
		dir:    dir,
		logger: logger,
		tails:  make(map[int64]chan struct{}),
	}
}

// Dispatch запускает доставку события и сразу возвращает управление.
func (d *TelegramDispatcher) Dispatch(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	prev, done := d.enqueue(ev.Order.ID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(ev.Order.ID, done)

		if prev != nil {
			<-prev
		}

		if ev.Type != EventCreated {
			d.cleanup(ctx, ev.Order.ID)
		}

		var recipients sync.WaitGroup
		for _, m := range d.plan(ctx, ev) {
			recipients.Add(1)
			go func() {
				defer recipients.Done()
				d.deliver(ctx, ev.Order.ID, m)
			}()
		}
		recipients.Wait()
	}()
}

// enqueue ставит событие в очередь заказа. prev закрывается, когда предыдущее событие обработано.
func (d *TelegramDispatcher) enqueue(orderID int64) (prev, done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev = d.tails[orderID]
	done = make(chan struct{})
	d.tails[orderID] = done
	return prev, done
}

func (d *TelegramDispatcher) release(orderID int64, done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	close(done)
	if d.tails[orderID] == done {
		delete(d.tails, orderID)
	}
}

// Wait ожидает завершения всех начатых рассылок.
func (d *TelegramDispatcher) Wait() {
	d.wg.Wait()
}

func (d *TelegramDispatcher) plan(ctx context.Context, ev Event) []outgoing {
	o := ev.Order
	msgs := []outgoing{{chatID: o.UserID, text: customerText(ev)}}

	switch ev.Type {
	case EventCreated:
		for _, id := range d.broadcastRecipients(ctx) {
			if id == o.UserID {
				continue
			}
			msgs = append(msgs, outgoing{
				chatID:   id,
				text:     broadcastText(o),
				keyboard: CourierKeyboard(o.ID, o.Status),
				track:    true,
			})
		}
	case EventClaimed:
		if ev.Courier != nil {
			msgs = append(msgs, outgoing{
				chatID:   ev.Courier.UserID,
				text:     "🚗 Вы взяли заказ\n\n" + Summary(o),
				keyboard: CourierKeyboard(o.ID, o.Status),
				track:    true,
			})
		}
	case EventDelivered:
		if ev.Courier != nil {
			msgs = append(msgs, outgoing{
				chatID:   ev.Courier.UserID,
				text:     "📦 Заказ отмечен доставленным\n\n" + Summary(o),
				keyboard: CourierKeyboard(o.ID, o.Status),
				track:    true,
			})
		}
	case EventCanceled:
		if ev.Courier != nil && ev.Courier.UserID != o.UserID {
			msgs = append(msgs, outgoing{chatID: ev.Courier.UserID, text: courierCanceledText(ev)})
		}
	}

	return msgs
}

func (d *TelegramDispatcher) broadcastRecipients(ctx context.Context) []int64 {
	seen := make(map[int64]bool)
	var ids []int64

	couriers, err := d.dir.ActiveCouriers(ctx)
	if err != nil {
		d.logger.Error("list active couriers", zap.Error(err))
	}
	for _, c := range couriers {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			ids = append(ids, c.UserID)
		}
	}

	admins, err := d.dir.UsersWithRole(ctx, model.RoleAdmin)
	if err != nil {
		d.logger.Error("list admins", zap.Error(err))
	}
	for _, id := range admins {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids
}

func (d *TelegramDispatcher) deliver(ctx context.Context, orderID int64, m outgoing) {
	msg := tgbotapi.NewMessage(m.chatID, m.text)
	if m.keyboard != nil {
		msg.ReplyMarkup = *m.keyboard
	}

	sent, err := d.sender.Send(msg)
	if err != nil {
		d.logger.Warn("send notification",
			zap.Error(err),
			zap.Int64("order_id", orderID),
			zap.Int64("chat_id", m.chatID),
		)
		return
	}

	if !m.track {
		return
	}
	tracked := []model.BotMessage{{ChatID: m.chatID, MessageID: sent.MessageID}}
	if err := d.dir.AppendBotMessages(ctx, orderID, tracked); err != nil {
		d.logger.Warn("track bot message", zap.Error(err), zap.Int64("order_id", orderID))
	}
}

// cleanup удаляет отслеживаемые сообщения заказа: кнопки в них больше не актуальны.
func (d *TelegramDispatcher) cleanup(ctx context.Context, orderID int64) {
	msgs, err := d.dir.TakeBotMessages(ctx, orderID)
	if err != nil {
		d.logger.Warn("take bot messages", zap.Error(err), zap.Int64("order_id", orderID))
		return
	}

	for _, m := range msgs {
		if _, err := d.sender.Request(tgbotapi.NewDeleteMessage(m.ChatID, m.MessageID)); err != nil {
			d.logger.Debug("delete bot message",
				zap.Error(err),
				zap.Int64("order_id", orderID),
				zap.Int64("chat_id", m.ChatID),
			)
		}
	}
}
