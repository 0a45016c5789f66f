package cronexpr

import (
	"strconv"
	"strings"
)

// normalizeDow rewrites day-of-week values of 7 to 0. The cron library only
// accepts 0-6 while standard crontab treats 7 as an alias for Sunday.
// Anything it does not recognise is passed through untouched so the parser
// reports it.
func normalizeDow(field string) string {
	if !strings.Contains(field, "7") {
		return field
	}

	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, expandSunday(part)...)
	}
	return strings.Join(out, ",")
}

func expandSunday(part string) []string {
	base, step := part, 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return []string{part}
		}
		base, step = part[:i], n
	}

	lo, hi := base, base
	if i := strings.IndexByte(base, '-'); i >= 0 {
		lo, hi = base[:i], base[i+1:]
	}

	start, err := strconv.Atoi(lo)
	if err != nil {
		return []string{part}
	}
	end, err := strconv.Atoi(hi)
	if err != nil || end != 7 || start < 0 || start > end {
		return []string{part}
	}

	values := make([]string, 0, end-start+1)
	for v := start; v <= end; v += step {
		values = append(values, strconv.Itoa(v%7))
	}
	return values
}
