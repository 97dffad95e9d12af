package model

import (
	"time"

	"sar/internal/apperr"
)

// PeriodLayout is the MM-YYYY form used for review periods, e.g. "07-2025".
const PeriodLayout = "01-2006"

func ParsePeriod(s string) (time.Time, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil {
		return time.Time{}, apperr.Invalid("period", "must be in MM-YYYY form, got %q", s)
	}
	return t, nil
}

func FormatPeriod(t time.Time) string {
	return t.Format(PeriodLayout)
}
