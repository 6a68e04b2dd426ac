package sequence

import (
	"fmt"
	"strings"
	"time"
)

// Format renders an allocated value: interpolated prefix, zero-padded
// number, interpolated suffix. Supported placeholders are {year}, {y},
// {month} and {day}, taken from at.
//
// Example: prefix "INV/{year}/", padding 5, value 42 -> "INV/2024/00042".
func Format(seq *Sequence, value int64, at time.Time) string {
	r := strings.NewReplacer(
		"{year}", at.Format("2006"),
		"{y}", at.Format("06"),
		"{month}", at.Format("01"),
		"{day}", at.Format("02"),
	)

	num := fmt.Sprintf("%d", value)
	if seq.Padding > 0 {
		num = fmt.Sprintf("%0*d", seq.Padding, value)
	}

	return r.Replace(seq.Prefix) + num + r.Replace(seq.Suffix)
}
