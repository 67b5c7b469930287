package bot

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/notify"
)

// alertText переводит ошибку сервиса в текст для пользователя.
func alertText(err error) string {
	var terr *model.TransitionError
	switch {
	case errors.Is(err, model.ErrClaimLost):
		return "⚠️ Заказ уже взят другим курьером"
	case errors.As(err, &terr):
		return fmt.Sprintf("⚠️ Действие недоступно. Статус заказа #%d: %s", terr.OrderID, notify.StatusTitle(terr.Current))
	case errors.Is(err, model.ErrBanned):
		return "🚫 Вы заблокированы"
	case errors.Is(err, model.ErrForbidden):
		return "🚫 Недостаточно прав"
	case errors.Is(err, model.ErrNotFound):
		return "❓ Заказ не найден"
	case errors.Is(err, model.ErrValidation):
		return "⚠️ Некорректные данные"
	}
	return "❌ Произошла ошибка, попробуйте позже"
}

// unexpected сообщает, что ошибку нужно записать в лог.
func unexpected(err error) bool {
	for _, known := range []error{
		model.ErrClaimLost,
		model.ErrInvalidTransition,
		model.ErrForbidden,
		model.ErrNotFound,
		model.ErrValidation,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}
