package commons

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// ErrNotPointer indicates SetConfigFromEnvVars received something other than
// a pointer to a struct.
var ErrNotPointer = errors.New("configuration target must be a pointer to a struct")

// GetenvOrDefault returns the trimmed value of the environment variable key,
// or defaultValue when the variable is unset, empty, or whitespace.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvBoolOrDefault parses the environment variable key as a bool,
// returning defaultValue when unset or unparsable.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// GetenvIntOrDefault parses the environment variable key as an int64,
// returning defaultValue when unset or unparsable.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// SetConfigFromEnvVars populates the struct pointed to by target from the
// environment, using each field's `env` tag as the variable name. String,
// bool, and integer fields are supported; fields without a tag or with no
// corresponding variable keep their current value.
func SetConfigFromEnvVars(target any) error {
	value := reflect.ValueOf(target)
	if value.Kind() != reflect.Pointer || value.IsNil() || value.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	element := value.Elem()
	structType := element.Type()

	for index := 0; index < structType.NumField(); index++ {
		key := structType.Field(index).Tag.Get("env")
		if key == "" {
			continue
		}

		field := element.Field(index)
		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(GetenvOrDefault(key, field.String()))
		case reflect.Bool:
			field.SetBool(GetenvBoolOrDefault(key, field.Bool()))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			field.SetInt(GetenvIntOrDefault(key, field.Int()))
		default:
		}
	}

	return nil
}

// LocalEnvConfig marks that the process loaded its configuration from the
// local environment rather than an external source.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig prints the running version and environment name once
// and marks the local environment configuration as initialized.
func InitLocalEnvConfig() *LocalEnvConfig {
	localEnvConfigOnce.Do(func() {
		fmt.Printf("VERSION: %s\n\n", GetenvOrDefault("VERSION", "NO-VERSION"))
		fmt.Printf("ENVIRONMENT NAME: %s\n\n", GetenvOrDefault("ENV_NAME", "development"))

		localEnvConfig = &LocalEnvConfig{Initialized: true}
	})

	return localEnvConfig
}
