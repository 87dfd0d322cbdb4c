package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// ImportEntry is one username/password pair from a bulk import document.
// PasswordOK is false when the value was not a non-empty string.
type ImportEntry struct {
	Username   string
	Password   string
	PasswordOK bool
}

// ParseImport reads a flat JSON object of username to password, keeping
// document order so results line up with the uploaded file.
func ParseImport(data []byte, limit int64) ([]ImportEntry, error) {
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("file too large, maximum size is %d bytes: %w", limit, ErrTooLarge)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON format, expected {\"username\": \"password\", ...}: %w", ErrValidation)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("invalid JSON structure, expected key-value pairs: %w", ErrValidation)
	}

	var entries []ImportEntry
	seen := map[string]int{}

	err := jsonparser.ObjectEach(trimmed, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		username := string(key)
		entry := ImportEntry{Username: username}

		if dataType == jsonparser.String {
			password, err := jsonparser.ParseString(value)
			if err != nil {
				return err
			}
			entry.Password = password
			entry.PasswordOK = password != ""
		}

		// a repeated key keeps its first position and its last value
		if i, dup := seen[username]; dup {
			entries[i] = entry
			return nil
		}
		seen[username] = len(entries)
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid JSON format, expected {\"username\": \"password\", ...}: %w", ErrValidation)
	}

	return entries, nil
}

func importSummary(created, skipped int) string {
	summary := fmt.Sprintf("Created %d users successfully.", created)
	if skipped > 0 {
		summary += fmt.Sprintf(" Skipped %d invalid entries.", skipped)
	}
	return summary
}
