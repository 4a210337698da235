// Package promo decides whether a scheduled discount is in effect at a given
// instant and what price it yields. Nothing here reads the wall clock; the
// caller passes now, already converted to the store's time zone.
package promo

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"etalase/backend/internal/domain"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var hundred = decimal.NewFromInt(100)

// PriceResult is the outcome of pricing one unit. DiscountAmount is what was
// actually taken off, which can be less than the promo asked for when the
// discount would push the price below zero.
type PriceResult struct {
	Price          int64 `json:"price"`
	HasDiscount    bool  `json:"has_discount"`
	DiscountAmount int64 `json:"discount_amount"`
}

// IsActive applies the date, weekday and time-of-day filters. A filter only
// restricts when all of its inputs are present: both dates, a non-empty day
// list, both times. Time ranges are compared as "HH:MM" strings, so a window
// that crosses midnight (22:00-02:00) never matches.
func IsActive(days []string, startTime, endTime, startDate, endDate string, now time.Time) bool {
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)
	if startDate != "" && endDate != "" {
		start, okStart := parseDate(startDate, now.Location())
		end, okEnd := parseDate(endDate, now.Location())
		if !okStart || !okEnd {
			return false
		}
		if now.Before(start) || !now.Before(end.AddDate(0, 0, 1)) {
			return false
		}
	}

	if len(days) > 0 && !hasWeekday(days, now.Weekday()) {
		return false
	}

	startTime, endTime = strings.TrimSpace(startTime), strings.TrimSpace(endTime)
	if startTime != "" && endTime != "" {
		current := now.Format(clockLayout)
		if current < startTime || current > endTime {
			return false
		}
	}

	return true
}

// IsConfigActive is IsActive over a PromoConfig's schedule, ignoring the
// enabled flag.
func IsConfigActive(cfg domain.PromoConfig, now time.Time) bool {
	return IsActive(cfg.Days, cfg.StartTime, cfg.EndTime, cfg.StartDate, cfg.EndDate, now)
}

// EffectivePrice returns the price after cfg's discount when the promo is
// enabled and its window contains now. The discount never drives the price
// below zero and the reported amount is what was actually taken off.
func EffectivePrice(price int64, cfg *domain.PromoConfig, now time.Time) PriceResult {
	original := PriceResult{Price: price}
	if cfg == nil || !cfg.Enabled || cfg.Value == nil || price <= 0 {
		return original
	}

	discount, ok := requestedDiscount(price, cfg.Type, *cfg.Value)
	if !ok {
		return original
	}
	if !IsConfigActive(*cfg, now) {
		return original
	}

	final := price - discount
	if final < 0 {
		final = 0
	}
	applied := price - final
	return PriceResult{
		Price:          final,
		HasDiscount:    applied > 0,
		DiscountAmount: applied,
	}
}

// MeetsMinimumPurchase reports whether qty units at unitPrice reach the
// promo's purchase threshold. No threshold always passes. The product is
// computed in decimal so huge quantities cannot wrap around.
func MeetsMinimumPurchase(qty int64, unitPrice int64, minPurchase *int64) bool {
	if minPurchase == nil {
		return true
	}
	spent := decimal.NewFromInt(qty).Mul(decimal.NewFromInt(unitPrice))
	return spent.GreaterThanOrEqual(decimal.NewFromInt(*minPurchase))
}

// Resolve picks the promo that governs an item: a standalone promo referenced
// by appliedPromoID when it exists, otherwise the embedded config. The
// returned id is empty for embedded configs.
func Resolve(embedded *domain.PromoConfig, appliedPromoID string, promosByID map[string]domain.Promo) (*domain.PromoConfig, string) {
	if appliedPromoID != "" {
		if p, ok := promosByID[appliedPromoID]; ok {
			cfg := p.Config
			return &cfg, p.ID
		}
	}
	return embedded, ""
}

func requestedDiscount(price int64, promoType domain.PromoType, value float64) (int64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, false
	}

	switch promoType {
	case domain.PromoPercentage:
		amount := decimal.NewFromInt(price).Mul(decimal.NewFromFloat(value)).Div(hundred).Round(0)
		return amount.IntPart(), true
	case domain.PromoFixed:
		return decimal.NewFromFloat(value).Round(0).IntPart(), true
	default:
		return 0, false
	}
}

func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	if len(raw) > len(dateLayout) {
		raw = raw[:len(dateLayout)]
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func hasWeekday(days []string, weekday time.Weekday) bool {
	name := weekday.String()
	for _, day := range days {
		if strings.EqualFold(strings.TrimSpace(day), name) {
			return true
		}
	}
	return false
}
