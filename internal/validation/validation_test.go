package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/shopbot/internal/model"
)

func TestIsValidContact(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"international phone", "+79991234567", true},
		{"phone with spaces", "+7 999 123 45 67", true},
		{"plain digits", "89991234567", true},
		{"telegram username", "@alice_shop", true},
		{"short username", "@abc", false},
		{"too short phone", "12345", false},
		{"letters", "call me", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidContact(tt.value))
		})
	}
}

type sample struct {
	Name     string `validate:"required"`
	Quantity int    `validate:"min=1"`
	Phone    string `validate:"omitempty,contact"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "tea", Quantity: 1}))
	assert.NoError(t, Struct(sample{Name: "tea", Quantity: 2, Phone: "+79991234567"}))

	err := Struct(sample{Quantity: 0, Phone: "nope"})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "Name (required)")
	assert.Contains(t, err.Error(), "Quantity (min)")
	assert.Contains(t, err.Error(), "Phone (contact)")
}
