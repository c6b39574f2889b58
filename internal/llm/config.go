package llm

import (
	"fmt"
	"time"
)

// Config holds the configuration for the LLM client
// Works with any provider exposing the OpenAI Files and Responses endpoints
//
// Environment Variables (read by internal/config):
// - LLM_API_KEY: API key for the provider (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: Model name to use (default: gpt-5-mini)
// - LLM_TIMEOUT: Request timeout in seconds (default: 90)
// - LLM_REASONING_EFFORT: Reasoning effort hint (default: low)
// - LLM_QUICK_MODEL: Model for the short recommendation, empty disables it (default: gpt-5-nano)
// - LLM_QUICK_TIMEOUT: Time budget for the recommendation (default: 12s)
type Config struct {
	APIKey          string `json:"api_key"`
	APIURL          string `json:"api_url"`
	Model           string `json:"model"`
	Timeout         int    `json:"timeout"`
	ReasoningEffort string `json:"reasoning_effort"`
	Verbosity       string `json:"verbosity"`

	QuickModel   string        `json:"quick_model"`
	QuickTimeout time.Duration `json:"quick_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	switch c.ReasoningEffort {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("unknown reasoning effort %q", c.ReasoningEffort)
	}
	if c.QuickModel != "" && c.QuickTimeout <= 0 {
		return fmt.Errorf("quick suggestion timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers shared by every request
func (c *Config) GetHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Accept":        "application/json",
	}
}
