package domain

import (
	"fmt"
	"strings"
)

// ParsePriceMinor разбирает десятичную строку цены из карточки каталога
// ("9.99", "12", "0.5") в минимальные единицы. Отрицательные и нечисловые
// значения считаются дефектом данных каталога.
func ParsePriceMinor(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrPriceMalformed
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrItemPriceInvalid
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrPriceMalformed
	}
	// Дополняем дробную часть до двух знаков: "5" -> "50".
	frac = frac + strings.Repeat("0", 2-len(frac))

	var minor int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, ErrPriceMalformed
		}
		d := int64(r - '0')
		if minor > (1<<62)/10 {
			return 0, ErrPriceMalformed
		}
		minor = minor*10 + d
	}
	return minor, nil
}

// FormatMinor форматирует сумму в минимальных единицах как десятичную строку
// с ровно двумя знаками после точки ("1998" -> "19.98").
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
