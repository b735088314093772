package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from YAML with environment expansion, then
// applies direct env overrides for fields tagged with `env`.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	overrideWithEnv(reflect.ValueOf(cfg).Elem())
	return cfg, nil
}

func overrideWithEnv(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if field.Type.Kind() == reflect.Struct && fieldVal.CanSet() {
			overrideWithEnv(fieldVal)
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envValue, exists := os.LookupEnv(envKey)
		if !exists {
			continue
		}

		switch fieldVal.Kind() {
		case reflect.String:
			fieldVal.SetString(envValue)
		case reflect.Int, reflect.Int64:
			if intValue, err := strconv.ParseInt(envValue, 10, 64); err == nil {
				fieldVal.SetInt(intValue)
			}
		case reflect.Bool:
			if boolValue, err := strconv.ParseBool(envValue); err == nil {
				fieldVal.SetBool(boolValue)
			}
		case reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				fieldVal.Set(reflect.ValueOf(strings.Split(envValue, ",")))
			}
		}
	}
}
