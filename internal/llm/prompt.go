package llm

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const menuSchemaName = "menu_items"

const menuInstructions = "You are a traveller expert and language master, familiar with the food culture of the world. " +
	"Read every menu photo, transcribe each dish exactly as written, then translate it into %s. " +
	"Explain each dish in one short sentence of %s covering key ingredients or preparation. " +
	"Group dishes under the menu's own sections (translated with short words) or use \"Menu\". " +
	"Report the menu's source language as an ISO 639-1 code. " +
	"Always return the expected JSON format."

const quickInstructions = "You are a local resident and I'm your friend. " +
	"Start with a brief understanding of the menu and its dishes. " +
	"Then recommend dishes in 5 to 8 short sentences and use emoji to keep it lively. " +
	"Keep the whole answer under 8 sentences and write it in %s."

// LanguageName turns a BCP 47 tag into an English display name for prompts.
// Unparseable tags are returned unchanged.
func LanguageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

// BuildMenuRequest assembles the structured extraction request for a batch of uploaded images.
func BuildMenuRequest(cfg *Config, fileIDs []string, languageTag string) *ResponseRequest {
	name := LanguageName(languageTag)

	content := make([]ContentPart, 0, len(fileIDs)+1)
	content = append(content, ContentPart{
		Type: "input_text",
		Text: fmt.Sprintf("Translate this menu into %s. Answer everything using %s.", name, name),
	})
	for _, id := range fileIDs {
		content = append(content, ContentPart{Type: "input_image", FileID: id})
	}

	req := &ResponseRequest{
		Model:        cfg.Model,
		Instructions: fmt.Sprintf(menuInstructions, name, name),
		Input:        []InputMessage{{Role: "user", Content: content}},
		Text: &TextConfig{
			Format: &TextFormat{
				Type:   "json_schema",
				Name:   menuSchemaName,
				Schema: menuSchema(),
				Strict: true,
			},
			Verbosity: cfg.Verbosity,
		},
	}
	if cfg.ReasoningEffort != "" {
		req.Reasoning = &ReasoningConfig{Effort: cfg.ReasoningEffort}
	}
	return req
}

// BuildQuickSuggestionRequest asks the quick model for a short plain-text recommendation
// over the same images the extraction request reads.
func BuildQuickSuggestionRequest(cfg *Config, fileIDs []string, languageTag string) *ResponseRequest {
	name := LanguageName(languageTag)

	content := make([]ContentPart, 0, len(fileIDs)+1)
	content = append(content, ContentPart{Type: "input_text", Text: "Answer everything using " + name + "."})
	for _, id := range fileIDs {
		content = append(content, ContentPart{Type: "input_image", FileID: id})
	}

	return &ResponseRequest{
		Model:        cfg.QuickModel,
		Instructions: fmt.Sprintf(quickInstructions, name),
		Input:        []InputMessage{{Role: "user", Content: content}},
		Text:         &TextConfig{Verbosity: "low"},
		Reasoning:    &ReasoningConfig{Effort: "minimal"},
	}
}

func menuSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"section":         str("Menu section such as appetizer, main dish or soup, translated with short words. Defaults to Menu."),
			"original_name":   str("Dish name in the source language."),
			"translated_name": str("Dish name translated into the target language."),
			"description":     str("Supporting description or key ingredients."),
			"price":           map[string]any{"type": []string{"number", "null"}, "description": "Price of the dish if shown."},
		},
		"required":             []string{"section", "original_name", "translated_name", "description", "price"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"original_language": str("ISO 639-1 code of the menu's language."),
			"items":             map[string]any{"type": "array", "items": item},
		},
		"required":             []string{"original_language", "items"},
		"additionalProperties": false,
	}
}
