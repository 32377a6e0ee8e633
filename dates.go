package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/tonimelisma/journal-sync/internal/day"
)

// dateParser understands natural-language dates ("yesterday", "last friday").
var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	return w
}

// parseDateArg resolves a date argument relative to now. ISO dates are taken
// as-is; anything else goes through the natural-language parser. An empty
// argument means today.
func parseDateArg(raw string, now time.Time) (day.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return day.Today(now), nil
	}

	if d, err := day.Parse(raw); err == nil {
		return d, nil
	}

	r, err := dateParser.Parse(raw, now)
	if err != nil {
		return day.Date{}, fmt.Errorf("parsing date %q: %w", raw, err)
	}

	if r == nil {
		return day.Date{}, fmt.Errorf("unrecognized date %q (use YYYY-MM-DD, today, yesterday, ...)", raw)
	}

	return day.FromTime(r.Time), nil
}

// dateArg returns the first positional argument as a date, defaulting to
// today.
func dateArg(args []string, now time.Time) (day.Date, error) {
	if len(args) == 0 {
		return day.Today(now), nil
	}

	return parseDateArg(args[0], now)
}
