package menu

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Item is a single row of the model's JSON output.
type Item struct {
	Section        string          `json:"section"`
	OriginalName   string          `json:"original_name"`
	TranslatedName string          `json:"translated_name"`
	Description    string          `json:"description"`
	Price          json.RawMessage `json:"price"`
}

// Payload is the object the model is instructed to return.
type Payload struct {
	OriginalLanguage string `json:"original_language"`
	Items            []Item `json:"items"`
}

// ParsePayload decodes the model output text.
func ParsePayload(text string) (*Payload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty model output")
	}
	var payload Payload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if payload.Items == nil {
		return nil, fmt.Errorf("model output missing items")
	}
	return &payload, nil
}

// BuildTemplate groups items by section in first-seen order and drops incomplete dishes.
// A payload without a single complete dish is an error.
func BuildTemplate(payload *Payload) (*Template, error) {
	if payload == nil {
		return nil, fmt.Errorf("payload is nil")
	}

	order := make([]string, 0)
	bySection := make(map[string][]Dish)
	originals := make([]string, 0, len(payload.Items))

	for _, item := range payload.Items {
		section := strings.TrimSpace(item.Section)
		if section == "" {
			section = DefaultSection
		}
		dish := Dish{
			OriginalName:   strings.TrimSpace(item.OriginalName),
			TranslatedName: strings.TrimSpace(item.TranslatedName),
			Description:    strings.TrimSpace(item.Description),
			Price:          FormatPrice(item.Price),
		}
		if !dish.Complete() {
			continue
		}
		if _, ok := bySection[section]; !ok {
			order = append(order, section)
		}
		bySection[section] = append(bySection[section], dish)
		originals = append(originals, dish.OriginalName)
	}

	if len(originals) == 0 {
		return nil, fmt.Errorf("model output has no complete dish")
	}

	tpl := &Template{
		Status:           StatusCompleted,
		OriginalLanguage: strings.TrimSpace(payload.OriginalLanguage),
		Sections:         make([]Section, 0, len(order)),
	}
	for _, title := range order {
		tpl.Sections = append(tpl.Sections, Section{Title: title, Dishes: bySection[title]})
	}
	if tpl.OriginalLanguage == "" {
		tpl.OriginalLanguage = DetectLanguage(originals)
	}
	return tpl, nil
}

// FormatPrice renders numeric prices without trailing zeros for whole values
// and with two decimals otherwise. Strings pass through trimmed.
func FormatPrice(raw json.RawMessage) *string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimSpace(str)
		if str == "" {
			return nil
		}
		return &str
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return &s
	}
	var out string
	if f == math.Trunc(f) {
		out = strconv.FormatInt(int64(f), 10)
	} else {
		out = strconv.FormatFloat(f, 'f', 2, 64)
	}
	return &out
}

// DetectLanguage returns the ISO 639-1 code of the dominant script/language
// across dish names, or "" when detection is unreliable.
func DetectLanguage(texts []string) string {
	counts := make(map[string]int)
	for _, text := range texts {
		info := whatlanggo.Detect(text)
		if !info.IsReliable() {
			continue
		}
		code := info.Lang.Iso6391()
		if code == "" {
			continue
		}
		counts[code]++
	}

	var top string
	var topCount int
	for code, n := range counts {
		if n > topCount || (n == topCount && code < top) {
			top = code
			topCount = n
		}
	}
	return top
}
