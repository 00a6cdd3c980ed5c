package config

import (
	"os"
	"strings"
)

// ExpandEnv expands ${VAR} / $VAR references using the standard library,
// exactly as the teacher's pkg/config/envexpand.go does. Missing variables
// expand to empty string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// CleanAPIKey applies spec.md §6's API-key normalization: strip leading
// and trailing whitespace, collapse a whitespace-only value to empty
// (which disables that provider), and otherwise preserve internal
// whitespace within the key unchanged.
func CleanAPIKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return trimmed
}
