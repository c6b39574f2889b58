package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MimeLyc/menulens/internal/menu"
)

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(raw []byte) ([]string, error) {
	var ret []string
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return ret, nil
}

func encodeTemplate(tpl *menu.Template) (string, error) {
	data, err := json.Marshal(tpl)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTemplate(raw []byte) (*menu.Template, error) {
	var tpl menu.Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &tpl, nil
}

// SQLite keeps timestamps as unix milliseconds so range predicates compare integers.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
