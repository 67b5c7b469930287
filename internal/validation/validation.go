// Package validation проверяет входные данные запросов.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/shopbot/internal/model"
)

var (
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	usernameRe = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("contact", isContact); err != nil {
		panic(err)
	}
	return v
}

// isContact допускает телефон в международном формате или юзернейм Telegram вида @name.
func isContact(fl validator.FieldLevel) bool {
	s := strings.ReplaceAll(fl.Field().String(), " ", "")
	return phoneRe.MatchString(s) || usernameRe.MatchString(s)
}

// IsValidContact проверяет телефон или юзернейм Telegram.
func IsValidContact(s string) bool {
	return validate.Var(s, "contact") == nil
}

// Struct проверяет структуру по тегам validate. Ошибка оборачивает model.ErrValidation.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", model.ErrValidation, err)
}
