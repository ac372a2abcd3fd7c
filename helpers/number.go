package helpers

import (
	"fmt"
	"math"
)

// Round1 rounds to one decimal place, the precision used by every percentage in the dashboard.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatVolume formats a unit count with comma thousand separators, e.g. 1,234,567.
func FormatVolume(units int64) string {
	negative := units < 0
	if negative {
		units = -units
	}

	str := fmt.Sprintf("%d", units)
	length := len(str)

	var result string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}

	if negative {
		return "-" + result
	}
	return result
}
