package ingestion

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tour-agent/backend/internal/storage/models"
)

// ValidationError rejects one raw record. The record is dropped and the batch
// continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// "9-17", "9:00-17:30", "9.00 - 17.00", "9 a 17"
	hoursRe = regexp.MustCompile(`(\d{1,2})(?:[:.](\d{2}))?\s*(?:-|–|a|to)\s*(\d{1,2})(?:[:.](\d{2}))?`)
	// "5-10 CUP", "$5", "10 EUR", "25.50"
	priceRangeRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:-|–|a|to)\s*(\d+(?:[.,]\d+)?)`)
	priceAmountRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	currencyRe    = regexp.MustCompile(`(?i)\b(cup|cuc|usd|eur|mn)\b`)
	// "2h", "2 hours", "90 min", "2-3 hours"
	durationRangeRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:-|–|a|to)\s*(\d+(?:[.,]\d+)?)\s*(h|hr|hrs|hour|hours|hora|horas)?`)
	durationFixedRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(h|hr|hrs|hour|hours|hora|horas|min|mins|minutes|minutos)`)
)

var allDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var dayAliases = map[string]string{
	"mon": "monday", "monday": "monday", "lunes": "monday",
	"tue": "tuesday", "tues": "tuesday", "tuesday": "tuesday", "martes": "tuesday",
	"wed": "wednesday", "wednesday": "wednesday", "miercoles": "wednesday", "miércoles": "wednesday",
	"thu": "thursday", "thur": "thursday", "thursday": "thursday", "jueves": "thursday",
	"fri": "friday", "friday": "friday", "viernes": "friday",
	"sat": "saturday", "saturday": "saturday", "sabado": "saturday", "sábado": "saturday",
	"sun": "sunday", "sunday": "sunday", "domingo": "sunday",
}

// cleanText strips HTML markup out of crawled text fields and collapses
// whitespace. Crawlers hand over raw snippets more often than clean prose.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsRune(s, '<') && strings.ContainsRune(s, '>') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style").Each(func(i int, sel *goquery.Selection) {
				sel.Remove()
			})
			s = doc.Text()
		}
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return cleanText(s)
			}
		}
	}
	return ""
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		out := make([]string, 0, len(vv))
		for _, s := range vv {
			if c := cleanText(s); c != "" {
				out = append(out, c)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				if c := cleanText(s); c != "" {
					out = append(out, c)
				}
			}
		}
		return out
	case string:
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if c := cleanText(p); c != "" {
				out = append(out, c)
			}
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(n), ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func parseLocation(v any) models.Location {
	switch loc := v.(type) {
	case string:
		return models.Location{Address: cleanText(loc)}
	case map[string]any:
		out := models.Location{}
		if s, ok := loc["address"].(string); ok {
			out.Address = cleanText(s)
		}
		if s, ok := loc["city"].(string); ok {
			out.City = cleanText(s)
		}
		coords := loc
		if c, ok := loc["coordinates"].(map[string]any); ok {
			coords = c
		}
		if lat, ok := toFloat(coords["lat"]); ok {
			out.Lat = lat
		}
		if lon, ok := toFloat(coords["lon"]); ok {
			out.Lon = lon
		} else if lon, ok := toFloat(coords["lng"]); ok {
			out.Lon = lon
		}
		return out
	}
	return models.Location{}
}

// parseSchedule resolves the heterogeneous schedule shapes the crawlers
// produce into the regular/seasonal discriminated variant. Unrecognized
// shapes are rejected rather than guessed at.
func parseSchedule(v any) (*models.Schedule, error) {
	switch sched := v.(type) {
	case map[string]any:
		return parseScheduleMap(sched)
	case string:
		return parseScheduleString(sched)
	}
	return nil, &ValidationError{Field: "schedule", Reason: fmt.Sprintf("unsupported type %T", v)}
}

func parseScheduleMap(m map[string]any) (*models.Schedule, error) {
	typ, _ := m["type"].(string)
	switch typ {
	case models.ScheduleRegular:
		days, err := parseDays(m["days"])
		if err != nil {
			return nil, err
		}
		open, close_, err := parseHoursField(m)
		if err != nil {
			return nil, err
		}
		return &models.Schedule{Type: models.ScheduleRegular, Days: days, Open: open, Close: close_}, nil

	case models.ScheduleSeasonal:
		raw, ok := m["seasons"].([]any)
		if !ok || len(raw) == 0 {
			return nil, &ValidationError{Field: "schedule", Reason: "seasonal schedule without seasons"}
		}
		seasons := make([]models.Season, 0, len(raw))
		for _, item := range raw {
			sm, ok := item.(map[string]any)
			if !ok {
				return nil, &ValidationError{Field: "schedule", Reason: "season entry is not an object"}
			}
			days, err := parseDays(sm["days"])
			if err != nil {
				return nil, err
			}
			open, close_, err := parseHoursField(sm)
			if err != nil {
				return nil, err
			}
			name, _ := sm["name"].(string)
			if name == "" {
				return nil, &ValidationError{Field: "schedule", Reason: "season without name"}
			}
			seasons = append(seasons, models.Season{Name: cleanText(name), Days: days, Open: open, Close: close_})
		}
		return &models.Schedule{Type: models.ScheduleSeasonal, Seasons: seasons}, nil
	}
	return nil, &ValidationError{Field: "schedule", Reason: fmt.Sprintf("unknown schedule type %q", typ)}
}

// parseScheduleString handles free-form strings like "open daily 9-5" or
// "mon-fri 10:00-18:00". Anything without recognizable days and hours is
// rejected.
func parseScheduleString(s string) (*models.Schedule, error) {
	lower := strings.ToLower(cleanText(s))
	if lower == "" {
		return nil, &ValidationError{Field: "schedule", Reason: "empty schedule"}
	}

	var days []string
	switch {
	case strings.Contains(lower, "daily") || strings.Contains(lower, "every day") || strings.Contains(lower, "todos los dias") || strings.Contains(lower, "todos los días"):
		days = append(days, allDays...)
	case strings.Contains(lower, "weekday"):
		days = append(days, allDays[:5]...)
	case strings.Contains(lower, "weekend"):
		days = append(days, allDays[5:]...)
	default:
		days = extractDayRange(lower)
	}
	if len(days) == 0 {
		return nil, &ValidationError{Field: "schedule", Reason: fmt.Sprintf("cannot resolve days from %q", s)}
	}

	open, close_, err := extractHours(lower)
	if err != nil {
		return nil, err
	}

	return &models.Schedule{Type: models.ScheduleRegular, Days: days, Open: open, Close: close_}, nil
}

func extractDayRange(lower string) []string {
	type mention struct {
		day int
		pos int
	}
	found := make([]mention, 0, 2)
	for i, day := range allDays {
		pos := -1
		for alias, canonical := range dayAliases {
			if canonical != day {
				continue
			}
			if p := strings.Index(lower, alias); p >= 0 && (pos == -1 || p < pos) {
				pos = p
			}
		}
		if pos >= 0 {
			found = append(found, mention{day: i, pos: pos})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	// two days joined by a range separator expand in text order, wrapping
	// around the week end ("fri-mon" is fri/sat/sun/mon, not mon..fri)
	if len(found) == 2 && (strings.Contains(lower, "-") || strings.Contains(lower, " a ")) {
		days := []string{allDays[found[0].day]}
		for d := found[0].day; d != found[1].day; {
			d = (d + 1) % len(allDays)
			days = append(days, allDays[d])
		}
		return days
	}

	days := make([]string, 0, len(found))
	for _, m := range found {
		days = append(days, allDays[m.day])
	}
	return days
}

func extractHours(lower string) (string, string, error) {
	m := hoursRe.FindStringSubmatch(lower)
	if m == nil {
		return "", "", &ValidationError{Field: "schedule", Reason: fmt.Sprintf("cannot resolve hours from %q", lower)}
	}
	openH, _ := strconv.Atoi(m[1])
	closeH, _ := strconv.Atoi(m[3])
	openM, closeM := m[2], m[4]
	if openM == "" {
		openM = "00"
	}
	if closeM == "" {
		closeM = "00"
	}
	// "9-5" means 09:00-17:00
	if closeH < openH && closeH <= 12 {
		closeH += 12
	}
	if openH > 23 || closeH > 23 {
		return "", "", &ValidationError{Field: "schedule", Reason: fmt.Sprintf("hours out of range in %q", lower)}
	}
	return fmt.Sprintf("%02d:%s", openH, openM), fmt.Sprintf("%02d:%s", closeH, closeM), nil
}

func parseHoursField(m map[string]any) (string, string, error) {
	if hours, ok := m["hours"].(string); ok {
		return extractHours(strings.ToLower(hours))
	}
	open, _ := m["open"].(string)
	close_, _ := m["close"].(string)
	if open == "" || close_ == "" {
		return "", "", &ValidationError{Field: "schedule", Reason: "missing open/close hours"}
	}
	return open, close_, nil
}

func parseDays(v any) ([]string, error) {
	raw := stringList(v)
	if len(raw) == 0 {
		return nil, &ValidationError{Field: "schedule", Reason: "missing days"}
	}
	days := make([]string, 0, len(raw))
	for _, d := range raw {
		canonical, ok := dayAliases[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, &ValidationError{Field: "schedule", Reason: fmt.Sprintf("unknown day %q", d)}
		}
		days = append(days, canonical)
	}
	return days, nil
}

// parsePrice resolves the fixed/range/free price variant.
func parsePrice(v any) (*models.Price, error) {
	switch price := v.(type) {
	case map[string]any:
		typ, _ := price["type"].(string)
		currency, _ := price["currency"].(string)
		switch typ {
		case models.PriceFree:
			return &models.Price{Type: models.PriceFree}, nil
		case models.PriceFixed:
			amount, ok := toFloat(price["amount"])
			if !ok {
				return nil, &ValidationError{Field: "price", Reason: "fixed price without amount"}
			}
			return &models.Price{Type: models.PriceFixed, Amount: amount, Currency: strings.ToUpper(currency)}, nil
		case models.PriceRange:
			min, okMin := toFloat(price["min"])
			max, okMax := toFloat(price["max"])
			if !okMin || !okMax || min > max {
				return nil, &ValidationError{Field: "price", Reason: "range price without valid min/max"}
			}
			return &models.Price{Type: models.PriceRange, Min: min, Max: max, Currency: strings.ToUpper(currency)}, nil
		}
		return nil, &ValidationError{Field: "price", Reason: fmt.Sprintf("unknown price type %q", typ)}

	case float64, float32, int, int64:
		amount, _ := toFloat(price)
		return &models.Price{Type: models.PriceFixed, Amount: amount}, nil

	case string:
		return parsePriceString(price)
	}
	return nil, &ValidationError{Field: "price", Reason: fmt.Sprintf("unsupported type %T", v)}
}

func parsePriceString(s string) (*models.Price, error) {
	lower := strings.ToLower(cleanText(s))
	if lower == "" {
		return nil, &ValidationError{Field: "price", Reason: "empty price"}
	}
	if strings.Contains(lower, "free") || strings.Contains(lower, "gratis") || strings.Contains(lower, "gratuito") {
		return &models.Price{Type: models.PriceFree}, nil
	}

	currency := ""
	if m := currencyRe.FindStringSubmatch(lower); m != nil {
		currency = strings.ToUpper(m[1])
	} else if strings.Contains(s, "$") {
		currency = "USD"
	}

	if m := priceRangeRe.FindStringSubmatch(lower); m != nil {
		min, _ := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		max, _ := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
		if min > max {
			return nil, &ValidationError{Field: "price", Reason: fmt.Sprintf("inverted range in %q", s)}
		}
		return &models.Price{Type: models.PriceRange, Min: min, Max: max, Currency: currency}, nil
	}

	if m := priceAmountRe.FindStringSubmatch(lower); m != nil {
		amount, _ := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		return &models.Price{Type: models.PriceFixed, Amount: amount, Currency: currency}, nil
	}

	return nil, &ValidationError{Field: "price", Reason: fmt.Sprintf("cannot parse %q", s)}
}

// parseDuration resolves the fixed/range duration variant, normalized to hours.
func parseDuration(v any) (*models.Duration, error) {
	switch dur := v.(type) {
	case map[string]any:
		typ, _ := dur["type"].(string)
		switch typ {
		case models.DurationFixed:
			hours, ok := toFloat(dur["hours"])
			if !ok || hours <= 0 {
				return nil, &ValidationError{Field: "duration", Reason: "fixed duration without hours"}
			}
			return &models.Duration{Type: models.DurationFixed, Hours: hours}, nil
		case models.DurationRange:
			min, okMin := toFloat(dur["min_hours"])
			max, okMax := toFloat(dur["max_hours"])
			if !okMin || !okMax || min <= 0 || min > max {
				return nil, &ValidationError{Field: "duration", Reason: "range duration without valid bounds"}
			}
			return &models.Duration{Type: models.DurationRange, MinHours: min, MaxHours: max}, nil
		}
		return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("unknown duration type %q", typ)}

	case float64, float32, int, int64:
		hours, _ := toFloat(dur)
		if hours <= 0 {
			return nil, &ValidationError{Field: "duration", Reason: "non-positive duration"}
		}
		return &models.Duration{Type: models.DurationFixed, Hours: hours}, nil

	case string:
		return parseDurationString(dur)
	}
	return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("unsupported type %T", v)}
}

func parseDurationString(s string) (*models.Duration, error) {
	lower := strings.ToLower(cleanText(s))
	if lower == "" {
		return nil, &ValidationError{Field: "duration", Reason: "empty duration"}
	}

	if m := durationRangeRe.FindStringSubmatch(lower); m != nil {
		min, _ := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		max, _ := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
		if min <= 0 || min > max {
			return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("invalid range in %q", s)}
		}
		return &models.Duration{Type: models.DurationRange, MinHours: min, MaxHours: max}, nil
	}

	if m := durationFixedRe.FindStringSubmatch(lower); m != nil {
		value, _ := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if strings.HasPrefix(m[2], "min") {
			value /= 60
		}
		if value <= 0 {
			return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("non-positive duration in %q", s)}
		}
		return &models.Duration{Type: models.DurationFixed, Hours: value}, nil
	}

	return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("cannot parse %q", s)}
}
