package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file from the working directory when one exists.
// Variables already set in the process environment win.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

func GetEnv(key string) string {
	return os.Getenv(key)
}

func GetEnvString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return value
}

func GetEnvNumeric(key string, defaultValue float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		logger.Warn("Invalid numeric env value, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

// GetEnvInt reads an integer, falling back to defaultValue when the
// variable is unset, malformed or not positive.
func GetEnvInt(key string, defaultValue int) int {
	v := int(GetEnvNumeric(key, float64(defaultValue)))
	if v <= 0 {
		return defaultValue
	}
	return v
}

func GetEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration interprets the variable as a count of unit.
func GetEnvDuration(key string, defaultValue int, unit time.Duration) time.Duration {
	return time.Duration(GetEnvInt(key, defaultValue)) * unit
}

// GetEnvMap parses "a=b,c=d" into a map. Malformed pairs are ignored.
func GetEnvMap(key string) map[string]string {
	raw := GetEnv(key)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
