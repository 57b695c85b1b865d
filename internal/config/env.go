// Package config reads function configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Require returns the value of a required environment variable.
func Require(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("%s environment variable is required", name)
	}
	return value, nil
}

// String returns the value of name, or def when unset or blank.
func String(name, def string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return def
}

// Int parses name as an integer. Unset, blank or unparseable values yield def.
func Int(name string, def int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// Bool reports whether name holds a common truthy value.
func Bool(name string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return slices.Contains([]string{"true", "yes", "t", "y", "1"}, value)
}

// Minutes reads an integer number of minutes as a duration.
func Minutes(name string, def int) time.Duration {
	return time.Duration(Int(name, def)) * time.Minute
}

// List splits a comma-separated variable, dropping blank entries.
func List(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
