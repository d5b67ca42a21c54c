package normalizer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "ene": time.January,
	"febrero": time.February, "feb": time.February,
	"marzo": time.March, "mar": time.March,
	"abril": time.April, "abr": time.April,
	"mayo": time.May, "may": time.May,
	"junio": time.June, "jun": time.June,
	"julio": time.July, "jul": time.July,
	"agosto": time.August, "ago": time.August,
	"septiembre": time.September, "setiembre": time.September, "sep": time.September, "sept": time.September, "set": time.September,
	"octubre": time.October, "oct": time.October,
	"noviembre": time.November, "nov": time.November,
	"diciembre": time.December, "dic": time.December,
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
}

var (
	reISODate     = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	reDayFirst    = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})`)
	reSpanishDate = regexp.MustCompile(`(\d{1,2})(?:\s+de|\s*[-/.])?\s*([a-z]{3,10})\.?(?:\s+de|\s+del|\s*[-/.])?\s*(\d{4})`)
	reClock       = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)
)

// fold lower-cases s and strips accents.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// ParseDate reads the date formats found across sources, including Spanish
// month names ("18 de febrero de 2025", "18-feb-2025"). Values without a zone
// are read in loc. Anything unparseable yields nil.
func ParseDate(raw string, loc *time.Location) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}

	f := fold(s)
	var (
		year, day int
		month     time.Month
		rest      string
	)
	switch {
	case reISODate.MatchString(f):
		m := reISODate.FindStringSubmatch(f)
		year, _ = strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		month = time.Month(mm)
		day, _ = strconv.Atoi(m[3])
		rest = f[len(m[0]):]
	case reDayFirst.MatchString(f):
		m := reDayFirst.FindStringSubmatch(f)
		day, _ = strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		month = time.Month(mm)
		year, _ = strconv.Atoi(m[3])
		rest = f[len(m[0]):]
	default:
		m := reSpanishDate.FindStringSubmatchIndex(f)
		if m == nil {
			return nil
		}
		mon, ok := spanishMonths[f[m[4]:m[5]]]
		if !ok {
			return nil
		}
		day, _ = strconv.Atoi(f[m[2]:m[3]])
		year, _ = strconv.Atoi(f[m[6]:m[7]])
		month = mon
		rest = f[m[1]:]
	}

	hour, minute, second := 0, 0, 0
	if c := reClock.FindStringSubmatch(rest); c != nil {
		hour, _ = strconv.Atoi(c[1])
		minute, _ = strconv.Atoi(c[2])
		if c[3] != "" {
			second, _ = strconv.Atoi(c[3])
		}
		if strings.Contains(rest, "p.m") || strings.Contains(rest, "pm") {
			if hour < 12 {
				hour += 12
			}
		}
	}
	if !validDate(year, month, day) || hour > 23 || minute > 59 || second > 59 {
		return nil
	}
	t := time.Date(year, month, day, hour, minute, second, 0, loc).UTC()
	return &t
}

func validDate(year int, month time.Month, day int) bool {
	if year < 1900 || year > 2200 || month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && t.Month() == month
}

// Longer markers first so "euros" is not left as "os".
var moneyMarkers = []string{
	"iva incluido", "sin iva", "con iva",
	"dolares", "pesos", "euros", "eur",
	"us$", "usd", "mxn", "m.n.", "m.n", "mn", "$",
}

// ParseMoney strips currency markers and grouping separators. The last
// separator is the decimal one; a lone comma followed by exactly three digits
// is a thousands separator. Unparseable amounts yield nil.
func ParseMoney(raw string) *float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return &v
	}
	s := fold(raw)
	if s == "" {
		return nil
	}
	for _, marker := range moneyMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
		default:
			return nil
		}
	}
	s = strings.Trim(b.String(), ".,")
	if s == "" || strings.Count(s, "-") > 1 || (strings.Contains(s, "-") && !strings.HasPrefix(s, "-")) {
		return nil
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// DetectCurrency recognizes the currency markers used in amounts.
func DetectCurrency(raw string) string {
	s := fold(raw)
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "usd"), strings.Contains(s, "us$"), strings.Contains(s, "dolar"):
		return "USD"
	case strings.Contains(s, "eur"):
		return "EUR"
	case strings.Contains(s, "mxn"), strings.Contains(s, "m.n"), strings.Contains(s, "peso"), strings.Contains(s, "$"):
		return "MXN"
	}
	return ""
}

// normalizeCurrency maps an explicit currency field to its ISO code.
func normalizeCurrency(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if len(s) == 3 && s != "M.N" {
		return s
	}
	return DetectCurrency(raw)
}

func extractMap(value interface{}) map[string]interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func extractSlice(value interface{}) []interface{} {
	if s, ok := value.([]interface{}); ok {
		return s
	}
	return nil
}

func getString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return cleanText(val)
	case fmt.Stringer:
		return cleanText(val.String())
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// cleanText collapses runs of whitespace and trims.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
