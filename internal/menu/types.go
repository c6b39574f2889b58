package menu

import (
	"fmt"
	"strings"
)

const (
	StatusCompleted = "completed"
	DefaultSection  = "Menu"
)

// Dish is one menu entry as returned by the translation model.
type Dish struct {
	OriginalName   string  `json:"original_name"`
	TranslatedName string  `json:"translated_name"`
	Description    string  `json:"description"`
	Price          *string `json:"price,omitempty"`
}

// Complete reports whether the dish carries every text field a menu shows.
func (d Dish) Complete() bool {
	return d.OriginalName != "" && d.TranslatedName != "" && d.Description != ""
}

type Section struct {
	Title  string `json:"title"`
	Dishes []Dish `json:"dishes"`
}

// Template is the structured menu document published behind share tokens.
type Template struct {
	Status           string    `json:"status"`
	OriginalLanguage string    `json:"original_language,omitempty"`
	Sections         []Section `json:"sections"`
	QuickSuggestion  string    `json:"quick_suggestion,omitempty"`
}

// Validate rejects templates that did not come from a completed translation
// or that hold no complete dish.
func (t *Template) Validate() error {
	if t == nil {
		return fmt.Errorf("template is nil")
	}
	if t.Status != StatusCompleted {
		return fmt.Errorf("template status %q is not %q", t.Status, StatusCompleted)
	}
	for i, section := range t.Sections {
		if strings.TrimSpace(section.Title) == "" {
			return fmt.Errorf("section %d has no title", i)
		}
		for j, dish := range section.Dishes {
			if !dish.Complete() {
				return fmt.Errorf("section %q dish %d is incomplete", section.Title, j)
			}
		}
	}
	if t.DishCount() == 0 {
		return fmt.Errorf("template has no dishes")
	}
	return nil
}

// DishCount returns the number of dishes across all sections.
func (t *Template) DishCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, s := range t.Sections {
		n += len(s.Dishes)
	}
	return n
}

// Clone returns a deep copy so stored templates cannot be mutated through a caller's pointer.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	ret := &Template{
		Status:           t.Status,
		OriginalLanguage: t.OriginalLanguage,
		Sections:         make([]Section, len(t.Sections)),
		QuickSuggestion:  t.QuickSuggestion,
	}
	for i, s := range t.Sections {
		dishes := make([]Dish, len(s.Dishes))
		for j, d := range s.Dishes {
			dishes[j] = d
			if d.Price != nil {
				p := *d.Price
				dishes[j].Price = &p
			}
		}
		ret.Sections[i] = Section{Title: s.Title, Dishes: dishes}
	}
	return ret
}
