// Package loyalty рассчитывает скидки по программе лояльности и начисление штампов.
package loyalty

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/model"
)

// StampsPerReward - сколько единиц (штампы плюс товары) дают одну единицу со скидкой.
const StampsPerReward = 6

const defaultDiscountPercent = 25

var discountByLevel = map[model.LoyaltyLevel]int{
	model.LoyaltyWhite:    25,
	model.LoyaltyPlatinum: 30,
	model.LoyaltyBlack:    35,
}

var hundred = decimal.NewFromInt(100)

// DiscountPercent возвращает процент скидки для уровня. Для неизвестного уровня - 25.
func DiscountPercent(level model.LoyaltyLevel) int {
	if pct, ok := discountByLevel[level]; ok {
		return pct
	}
	return defaultDiscountPercent
}

// NextLevel возвращает следующий уровень. Black остаётся Black.
func NextLevel(level model.LoyaltyLevel) model.LoyaltyLevel {
	switch level {
	case model.LoyaltyWhite:
		return model.LoyaltyPlatinum
	case model.LoyaltyPlatinum, model.LoyaltyBlack:
		return model.LoyaltyBlack
	default:
		return model.LoyaltyPlatinum
	}
}

// Allocation - результат распределения скидочных единиц по позициям корзины.
type Allocation struct {
	Lines           []model.PricedLine
	Total           decimal.Decimal
	DiscountedUnits int
	DiscountPercent int
}

// Applied сообщает, получила ли хотя бы одна единица скидку.
func (a Allocation) Applied() bool {
	return a.DiscountedUnits > 0
}

// Allocate распределяет скидочные единицы: каждые 6 единиц (штампы + товары в корзине)
// дают одну единицу со скидкой уровня. Скидка достаётся самым дорогим позициям.
// Порядок позиций в результате совпадает с порядком на входе.
func Allocate(stamps int, level model.LoyaltyLevel, lines []model.BasketLine) Allocation {
	pct := DiscountPercent(level)

	totalQty := 0
	for _, l := range lines {
		totalQty += l.Quantity
	}
	entitled := (stamps + totalQty) / StampsPerReward

	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].Price.GreaterThan(lines[order[b]].Price)
	})

	discounted := make([]int, len(lines))
	remaining := entitled
	for _, idx := range order {
		if remaining <= 0 {
			break
		}
		d := min(remaining, lines[idx].Quantity)
		discounted[idx] = d
		remaining -= d
	}

	factor := hundred.Sub(decimal.NewFromInt(int64(pct))).Div(hundred)

	res := Allocation{
		Lines:           make([]model.PricedLine, 0, len(lines)),
		Total:           decimal.Zero,
		DiscountPercent: pct,
	}
	for i, l := range lines {
		d := discounted[i]
		regular := l.Price.Mul(decimal.NewFromInt(int64(l.Quantity - d)))
		unitDiscounted := l.Price.Mul(factor)
		lineTotal := regular.Add(unitDiscounted.Mul(decimal.NewFromInt(int64(d)))).Round(2)

		pl := model.PricedLine{
			BasketLine:         l,
			DiscountedQuantity: d,
			Total:              lineTotal,
		}
		if d > 0 {
			pl.DiscountedPrice = unitDiscounted.Round(2)
			pl.DiscountPercent = pct
		}

		res.Lines = append(res.Lines, pl)
		res.Total = res.Total.Add(lineTotal)
		res.DiscountedUnits += d
	}

	return res
}

// Accrue начисляет штампы за купленные единицы и повышает уровень за каждые 6 штампов.
// После вызова user.Stamps всегда в диапазоне [0, 5].
func Accrue(user *model.User, purchased int) {
	if purchased < 0 {
		purchased = 0
	}
	user.Stamps += purchased
	user.TotalItemsPurchased += purchased

	for user.Stamps >= StampsPerReward {
		user.Stamps -= StampsPerReward
		user.LoyaltyLevel = NextLevel(user.LoyaltyLevel)
	}
}

// ApplyPromocode уменьшает сумму на процент промокода. Неактивный или отсутствующий промокод игнорируется.
func ApplyPromocode(total decimal.Decimal, promo *model.Promocode) (decimal.Decimal, int) {
	if promo == nil || !promo.IsActive || promo.Percentage <= 0 {
		return total, 0
	}
	pct := min(promo.Percentage, 100)
	factor := hundred.Sub(decimal.NewFromInt(int64(pct))).Div(hundred)
	return total.Mul(factor).Round(2), pct
}

// Card формирует сводку лояльности пользователя.
func Card(u model.User) model.LoyaltyCard {
	return model.LoyaltyCard{
		UserID:              u.ID,
		Username:            u.Username,
		Stamps:              u.Stamps,
		LoyaltyLevel:        u.LoyaltyLevel,
		DiscountPercent:     DiscountPercent(u.LoyaltyLevel),
		TotalItemsPurchased: u.TotalItemsPurchased,
		StampsUntilDiscount: max(StampsPerReward-u.Stamps, 0),
		IsBanned:            u.IsBanned,
	}
}
