// Package secrets resolves the credentials the service's collaborators
// need: the tracker token, the billing and email API keys, the Gemini key
// and the webhook signing secret.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a credential comes from.
type Source struct {
	// Name identifies the credential in error messages, e.g. "tracker token".
	Name string
	// Value is an inline credential from configuration or flags.
	Value string
	// File points to a file holding the credential, typically a mounted
	// secret. When set it takes precedence over Value.
	File string
}

// Load resolves the credential from src, preferring File over Value, and
// trims surrounding whitespace (secret files usually end in a newline). An
// error is returned when neither File nor Value yields a usable credential.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s from %q: %w", name, file, err)
		}
		src.Value = string(data)
		src.File = file
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		if src.File != "" {
			return "", fmt.Errorf("%s file %q holds no value", name, src.File)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}
