package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Lookup resolves a secret from KEY_FILE (Docker secrets pattern) or KEY.
// The file variant wins when both are set. found is false when neither is set.
func Lookup(envKey string) (value string, found bool, err error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", false, fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), true, nil
	}
	if value := os.Getenv(envKey); value != "" {
		return value, true, nil
	}
	return "", false, nil
}

// GetSecret resolves a secret, falling back to defaultValue when it is unset.
// An unreadable secret file is an error rather than a silent default.
func GetSecret(envKey string, defaultValue string) (string, error) {
	value, found, err := Lookup(envKey)
	if err != nil {
		return "", err
	}
	if !found {
		return defaultValue, nil
	}
	return value, nil
}
