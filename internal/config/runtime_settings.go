package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/MimeLyc/menulens/pkg/icron"
	"github.com/MimeLyc/menulens/pkg/log"
	"golang.org/x/text/language"
)

// RuntimeSettings are optional overrides read from SETTINGS_FILE.
// Empty fields leave the environment value in place.
type RuntimeSettings struct {
	LLMAPIURL       string `json:"llm_api_url"`
	LLMAPIKey       string `json:"llm_api_key"`
	LLMModel        string `json:"llm_model"`
	ReaperSchedule  string `json:"reaper_schedule"`
	DefaultLanguage string `json:"default_output_language"`
	MaxRetries      int    `json:"max_retries"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", "")
}

func (s RuntimeSettings) Validate() error {
	if expr := strings.TrimSpace(s.ReaperSchedule); expr != "" {
		if _, err := icron.Parse(expr); err != nil {
			return fmt.Errorf("invalid reaper_schedule: %w", err)
		}
	}
	if lang := strings.TrimSpace(s.DefaultLanguage); lang != "" {
		if _, err := language.Parse(lang); err != nil {
			return fmt.Errorf("invalid default_output_language: %w", err)
		}
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.ReaperSchedule) != "" {
			c.Lifecycle.ReaperSchedule = settings.ReaperSchedule
		}
		if tag, err := language.Parse(settings.DefaultLanguage); err == nil {
			c.LLM.DefaultLanguage = tag
		}
		if settings.MaxRetries > 0 {
			c.Lifecycle.MaxRetries = settings.MaxRetries
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	return settings, nil
}

// Load builds the config from the environment plus SETTINGS_FILE when present.
func Load(opts ...Option) (*Config, error) {
	if path := RuntimeSettingsFilePath(); path != "" {
		settings, err := LoadRuntimeSettingsFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn("Settings file %s not found, using environment only", path)
		case err != nil:
			return nil, err
		default:
			log.Info("Loaded runtime settings from %s", path)
			opts = append([]Option{WithRuntimeSettings(settings)}, opts...)
		}
	}
	return NewFromEnv(opts...)
}
