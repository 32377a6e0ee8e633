package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unlimited is the resolved max_bytes value that disables the store quota.
const Unlimited int64 = 0

var errNegativeQuota = errors.New("must be zero (unlimited) or positive")

// quotaUnits lists the accepted max_bytes suffixes, longest first so "MiB"
// is matched before "B". IEC units are powers of 1024, SI units of 1000.
var quotaUnits = []struct {
	suffix string
	scale  float64
}{
	{"gib", 1 << 30},
	{"mib", 1 << 20},
	{"kib", 1 << 10},
	{"gb", 1e9},
	{"mb", 1e6},
	{"kb", 1e3},
	{"b", 1},
}

// ParseQuota resolves a [store] max_bytes setting to bytes. A bare number is
// a byte count; "", "0" and "unlimited" yield Unlimited. Fractions are
// allowed with a unit ("1.5MiB") and truncate to whole bytes.
func ParseQuota(s string) (int64, error) {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "", "0", "unlimited":
		return Unlimited, nil
	}

	num, scale := splitQuotaUnit(s)
	if num == "" {
		return 0, fmt.Errorf("quota %q: missing number", s)
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("quota %q: %q is not a number", s, num)
	}

	if scale == 1 && n != math.Trunc(n) {
		return 0, fmt.Errorf("quota %q: byte counts must be whole", s)
	}

	if n < 0 {
		return 0, fmt.Errorf("quota %q: %w", s, errNegativeQuota)
	}

	b := n * scale
	if b >= math.MaxInt64 {
		return 0, fmt.Errorf("quota %q: too large", s)
	}

	return int64(b), nil
}

func splitQuotaUnit(s string) (string, float64) {
	lower := strings.ToLower(s)

	for _, u := range quotaUnits {
		if strings.HasSuffix(lower, u.suffix) {
			return strings.TrimSpace(s[:len(s)-len(u.suffix)]), u.scale
		}
	}

	return s, 1
}

// FormatQuota renders bytes the way max_bytes is written in the config
// file, so the output of "config show" can be pasted back.
func FormatQuota(n int64) string {
	switch {
	case n <= Unlimited:
		return "unlimited"
	case n%(1<<30) == 0:
		return strconv.FormatInt(n>>30, 10) + "GiB"
	case n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "MiB"
	case n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "KiB"
	default:
		return strconv.FormatInt(n, 10)
	}
}
