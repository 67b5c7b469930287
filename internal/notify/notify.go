// Package notify рассылает уведомления о переходах заказа покупателям, курьерам и администраторам.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

// EventType - вид события жизненного цикла заказа.
type EventType string

const (
	EventCreated   EventType = "created"
	EventClaimed   EventType = "claimed"
	EventDelivered EventType = "delivered"
	EventCompleted EventType = "completed"
	EventCanceled  EventType = "canceled"
)

// Event описывает зафиксированный переход заказа.
// Courier заполняется для claimed и для отмены назначенного заказа.
type Event struct {
	Type            EventType
	Order           model.Order
	Courier         *model.Courier
	Reason          string
	CanceledByAdmin bool
}

// Dispatcher доставляет событие получателям. Ошибки доставки не возвращаются.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Directory даёт диспетчеру список получателей рассылки и хранилище отслеживаемых сообщений.
type Directory interface {
	ActiveCouriers(ctx context.Context) ([]model.Courier, error)
	UsersWithRole(ctx context.Context, role model.Role) ([]int64, error)
	AppendBotMessages(ctx context.Context, orderID int64, msgs []model.BotMessage) error
	TakeBotMessages(ctx context.Context, orderID int64) ([]model.BotMessage, error)
}

// LogDispatcher только пишет события в лог. Используется, когда бот не настроен.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher создаёт диспетчер, пишущий события в лог.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch пишет событие в лог.
func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) {
	d.logger.Info("order event",
		zap.String("event", string(ev.Type)),
		zap.Int64("order_id", ev.Order.ID),
		zap.String("status", string(ev.Order.Status)),
		zap.String("reason", ev.Reason),
	)
}
