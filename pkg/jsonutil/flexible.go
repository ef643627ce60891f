package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Model output is JSON in shape only: numbers arrive as strings, lists arrive
// as comma-separated text. The types below accept those variants.

// FlexibleStringValue converts a json.RawMessage to a string, handling numbers
// and booleans in place of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleString is a string that also accepts JSON numbers and booleans.
type FlexibleString string

func (s *FlexibleString) UnmarshalJSON(data []byte) error {
	*s = FlexibleString(FlexibleStringValue(data))
	return nil
}

// FlexibleFloat accepts 0.8, "0.8" and "80%". Percentages are scaled to [0,1].
type FlexibleFloat float64

func (f *FlexibleFloat) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(FlexibleStringValue(data))
	if text == "" {
		*f = 0
		return nil
	}

	scale := 1.0
	if strings.HasSuffix(text, "%") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
		scale = 0.01
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", text, err)
	}
	*f = FlexibleFloat(v * scale)
	return nil
}

// FlexibleStrings accepts a JSON array of scalars or a single comma-separated string.
type FlexibleStrings []string

func (s *FlexibleStrings) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if v := strings.TrimSpace(FlexibleStringValue(item)); v != "" {
				out = append(out, v)
			}
		}
		*s = out
		return nil
	}

	*s = SplitList(FlexibleStringValue(data))
	return nil
}

// SplitList splits comma, semicolon or newline separated text into trimmed,
// non-empty entries.
func SplitList(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := strings.TrimSpace(f); v != "" {
			out = append(out, v)
		}
	}
	return out
}
