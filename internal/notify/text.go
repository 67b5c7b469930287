package notify

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mmeshcher/shopbot/internal/model"
)

// Действия inline-кнопок курьерской клавиатуры. Данные кнопки имеют вид "<action>:<order_id>".
const (
	ActionClaim   = "claim"
	ActionDeliver = "deliver"
	ActionFinish  = "finish"
	ActionCancel  = "cancel"
)

var statusTitles = map[model.OrderStatus]string{
	model.OrderWaitingForCourier: "⏳ Ожидает курьера",
	model.OrderInDelivery:        "🚗 В процессе доставки",
	model.OrderDelivered:         "✅ Доставлен",
	model.OrderCompleted:         "🏁 Завершен",
	model.OrderCanceled:          "❌ Отменен",
}

// StatusTitle возвращает человекочитаемое название статуса.
func StatusTitle(s model.OrderStatus) string {
	if t, ok := statusTitles[s]; ok {
		return t
	}
	return string(s)
}

// CallbackData формирует данные inline-кнопки.
func CallbackData(action string, orderID int64) string {
	return action + ":" + strconv.FormatInt(orderID, 10)
}

// ParseCallbackData разбирает данные inline-кнопки.
func ParseCallbackData(data string) (action string, orderID int64, err error) {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	switch action {
	case ActionClaim, ActionDeliver, ActionFinish, ActionCancel:
	default:
		return "", 0, fmt.Errorf("unknown callback action %q", action)
	}
	orderID, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil || orderID <= 0 {
		return "", 0, fmt.Errorf("malformed order id in %q", data)
	}
	return action, orderID, nil
}

// CourierKeyboard возвращает клавиатуру действий для заказа в статусе status.
// Для завершённых заказов клавиатура пустая.
func CourierKeyboard(orderID int64, status model.OrderStatus) *tgbotapi.InlineKeyboardMarkup {
	var primary tgbotapi.InlineKeyboardButton
	switch status {
	case model.OrderWaitingForCourier:
		primary = tgbotapi.NewInlineKeyboardButtonData("🚗 Взять заказ", CallbackData(ActionClaim, orderID))
	case model.OrderInDelivery:
		primary = tgbotapi.NewInlineKeyboardButtonData("✅ Доставлен", CallbackData(ActionDeliver, orderID))
	case model.OrderDelivered:
		primary = tgbotapi.NewInlineKeyboardButtonData("🏁 Завершить", CallbackData(ActionFinish, orderID))
	default:
		return nil
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			primary,
			tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", CallbackData(ActionCancel, orderID)),
		),
	)
	return &kb
}

// Summary формирует текстовое описание заказа.
func Summary(o model.Order) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "📋 Заказ #%d\n\n", o.ID)
	sb.WriteString("📦 Состав заказа:\n")
	for _, l := range o.Lines {
		name := l.Name
		if l.SelectedTaste != "" {
			name += " (" + l.SelectedTaste + ")"
		}
		fmt.Fprintf(&sb, "• %s x%d - %s₽", name, l.Quantity, l.PricePerItem.StringFixed(2))
		if l.DiscountedQuantity > 0 {
			fmt.Fprintf(&sb, " (со скидкой: %d)", l.DiscountedQuantity)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n💰 Сумма: %s₽\n", o.TotalPrice.StringFixed(2))
	if o.LoyaltyDiscount > 0 {
		fmt.Fprintf(&sb, "🎁 Скидка лояльности: %d%%\n", o.LoyaltyDiscount)
	}
	if o.Discount > 0 {
		fmt.Fprintf(&sb, "🏷 Промокод %s: %d%%\n", o.Promocode, o.Discount)
	}
	if o.Username != "" {
		fmt.Fprintf(&sb, "👤 Клиент: @%s\n", o.Username)
	}
	fmt.Fprintf(&sb, "📞 Телефон: %s\n", o.Telephone)
	fmt.Fprintf(&sb, "📊 Статус: %s\n", StatusTitle(o.Status))
	if o.Delivery != "" {
		fmt.Fprintf(&sb, "🚚 Доставка: %s\n", o.Delivery)
	}
	if o.Address != "" {
		fmt.Fprintf(&sb, "🏠 Адрес: %s\n", o.Address)
	}
	if o.Payment != "" {
		fmt.Fprintf(&sb, "💳 Оплата: %s\n", o.Payment)
	}
	if !o.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "📅 Дата: %s\n", o.CreatedAt.Format("02.01.2006 15:04"))
	}

	return sb.String()
}

func customerText(ev Event) string {
	id := ev.Order.ID
	switch ev.Type {
	case EventCreated:
		return "✅ Ваш заказ принят!\n\n" + Summary(ev.Order)
	case EventClaimed:
		text := fmt.Sprintf("🚗 Ваш заказ #%d передан курьеру.", id)
		if c := ev.Courier; c != nil {
			if c.Username != "" {
				text += "\n👤 Курьер: @" + c.Username
			}
			if c.Phone != "" {
				text += "\n📞 Телефон: " + c.Phone
			}
			if c.CarModel != "" {
				text += "\n🚘 Автомобиль: " + c.CarModel
			}
		}
		return text
	case EventDelivered:
		return fmt.Sprintf("📦 Ваш заказ #%d доставлен. Пожалуйста, подтвердите получение.", id)
	case EventCompleted:
		return fmt.Sprintf("🏁 Заказ #%d завершен. Спасибо за покупку!", id)
	case EventCanceled:
		text := fmt.Sprintf("❌ Ваш заказ #%d отменен.", id)
		if !ev.CanceledByAdmin && ev.Reason != "" {
			text += "\nПричина: " + ev.Reason
		}
		return text
	}
	return fmt.Sprintf("🔄 Статус вашего заказа #%d изменен:\n%s", id, StatusTitle(ev.Order.Status))
}

func broadcastText(o model.Order) string {
	return "🚀 Поступил новый заказ!\n\n" + Summary(o)
}

func courierCanceledText(ev Event) string {
	text := fmt.Sprintf("❌ Заказ #%d отменен.", ev.Order.ID)
	if ev.CanceledByAdmin {
		text += "\nОтменен администратором."
	} else if ev.Reason != "" {
		text += "\nПричина: " + ev.Reason
	}
	return text
}
