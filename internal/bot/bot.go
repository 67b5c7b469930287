// Package bot обрабатывает команды и inline-кнопки Telegram-бота магазина.
package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
)

const maxConcurrentUpdates = 16

// Service определяет операции сервиса, доступные из бота.
type Service interface {
	RegisterUser(ctx context.Context, userID int64, username string) (*model.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	WaitingOrders(ctx context.Context, actorID int64) ([]model.Order, error)
	CourierOrders(ctx context.Context, courierUserID int64) ([]model.Order, error)
	ClaimOrder(ctx context.Context, orderID, courierUserID int64) (*model.Order, error)
	AdvanceOrder(ctx context.Context, orderID, actorID int64, target model.OrderStatus) (*model.Order, error)
	CheckCancel(ctx context.Context, orderID, actorID int64) error
	CancelOrder(ctx context.Context, orderID, actorID int64, reason string) (*model.Order, error)
}

// Bot обрабатывает обновления Telegram.
type Bot struct {
	api     notify.Sender
	service Service
	dialogs *dialogs
	logger  *zap.Logger
}

// New создаёт обработчик обновлений бота.
func New(api notify.Sender, s Service, logger *zap.Logger) *Bot {
	return &Bot{
		api:     api,
		service: s,
		dialogs: newDialogs(),
		logger:  logger,
	}
}

// Run обрабатывает обновления до закрытия канала или отмены контекста.
// Обновления разных пользователей обрабатываются параллельно.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentUpdates)

	defer func() {
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.Go(func() error {
				b.HandleUpdate(ctx, update)
				return nil
			})
		}
	}
}

// HandleUpdate обрабатывает одно обновление.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		if update.Message.IsCommand() {
			b.handleCommand(ctx, update.Message)
			return
		}
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		if _, err := b.service.RegisterUser(ctx, userID, msg.From.UserName); err != nil {
			b.fail(msg.Chat.ID, err, "register user")
			return
		}
		b.reply(msg.Chat.ID, "👋 Добро пожаловать! Оформляйте заказы в нашем магазине, а мы сообщим о каждом шаге доставки.")
	case "orders":
		orders, err := b.service.WaitingOrders(ctx, userID)
		if err != nil {
			b.fail(msg.Chat.ID, err, "list waiting orders")
			return
		}
		b.sendOrders(msg.Chat.ID, orders, "📭 Нет заказов, ожидающих курьера")
	case "my":
		orders, err := b.service.CourierOrders(ctx, userID)
		if err != nil {
			b.fail(msg.Chat.ID, err, "list courier orders")
			return
		}
		b.sendOrders(msg.Chat.ID, orders, "📭 У вас нет активных заказов")
	case "cancel":
		if b.dialogs.drop(userID) {
			b.reply(msg.Chat.ID, "Отмена заказа прервана")
			return
		}
		b.reply(msg.Chat.ID, "Нечего отменять")
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда")
	}
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	st, ok := b.dialogs.take(msg.From.ID)
	if !ok {
		return
	}

	switch st.kind {
	case dialogCancelReason:
		reason := strings.TrimSpace(msg.Text)
		if reason == "" {
			b.dialogs.start(msg.From.ID, dialogCancelReason, st.orderID)
			b.reply(msg.Chat.ID, "Причина не может быть пустой. Напишите причину отмены или /cancel")
			return
		}
		if _, err := b.service.CancelOrder(ctx, st.orderID, msg.From.ID, reason); err != nil {
			b.fail(msg.Chat.ID, err, "cancel order", zap.Int64("order_id", st.orderID))
			return
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("❌ Заказ #%d отменен", st.orderID))
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	userID := q.From.ID

	action, orderID, err := notify.ParseCallbackData(q.Data)
	if err != nil {
		b.answer(q.ID, "Неизвестное действие", true)
		return
	}

	switch action {
	case notify.ActionClaim:
		_, err = b.service.ClaimOrder(ctx, orderID, userID)
		if err == nil {
			b.answer(q.ID, fmt.Sprintf("🚗 Заказ #%d ваш", orderID), false)
		}
	case notify.ActionDeliver:
		_, err = b.service.AdvanceOrder(ctx, orderID, userID, model.OrderDelivered)
		if err == nil {
			b.answer(q.ID, fmt.Sprintf("✅ Заказ #%d доставлен", orderID), false)
		}
	case notify.ActionFinish:
		_, err = b.service.AdvanceOrder(ctx, orderID, userID, model.OrderCompleted)
		if err == nil {
			b.answer(q.ID, fmt.Sprintf("🏁 Заказ #%d завершен", orderID), false)
		}
	case notify.ActionCancel:
		err = b.startCancel(ctx, q, orderID)
	}

	if err != nil {
		if unexpected(err) {
			b.logger.Error("callback failed", zap.Error(err), zap.String("action", action), zap.Int64("order_id", orderID))
		}
		b.answer(q.ID, alertText(err), true)
	}
}

// startCancel отменяет заказ сразу для администратора, а у курьера запрашивает причину.
// Причину спрашивают только после проверки, что отмена разрешена.
func (b *Bot) startCancel(ctx context.Context, q *tgbotapi.CallbackQuery, orderID int64) error {
	userID := q.From.ID

	isAdmin, err := b.service.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if isAdmin {
		if _, err := b.service.CancelOrder(ctx, orderID, userID, ""); err != nil {
			return err
		}
		b.answer(q.ID, fmt.Sprintf("❌ Заказ #%d отменен", orderID), false)
		return nil
	}

	if err := b.service.CheckCancel(ctx, orderID, userID); err != nil {
		return err
	}

	b.dialogs.start(userID, dialogCancelReason, orderID)
	b.answer(q.ID, "", false)

	chatID := userID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	b.reply(chatID, fmt.Sprintf("✍️ Напишите причину отмены заказа #%d или /cancel", orderID))
	return nil
}

func (b *Bot) sendOrders(chatID int64, orders []model.Order, empty string) {
	if len(orders) == 0 {
		b.reply(chatID, empty)
		return
	}
	for _, o := range orders {
		msg := tgbotapi.NewMessage(chatID, notify.Summary(o))
		if kb := notify.CourierKeyboard(o.ID, o.Status); kb != nil {
			msg.ReplyMarkup = kb
		}
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Warn("send order", zap.Error(err), zap.Int64("chat_id", chatID), zap.Int64("order_id", o.ID))
		}
	}
}

func (b *Bot) fail(chatID int64, err error, msg string, fields ...zap.Field) {
	if unexpected(err) {
		b.logger.Error(msg, append(fields, zap.Error(err), zap.Int64("chat_id", chatID))...)
	}
	b.reply(chatID, alertText(err))
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("send reply", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) answer(callbackID, text string, alert bool) {
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Warn("answer callback", zap.Error(err), zap.String("callback_id", callbackID))
	}
}
