// Package config loads process settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Validator is implemented by settings that check cross-field constraints after parsing.
type Validator interface {
	Validate() error
}

// Parse fills a T from the environment, honouring `env` and `envDefault`
// tags, and runs Validate when T implements Validator.
func Parse[T any]() (T, error) {
	return ParseWith[T](env.Options{})
}

// ParseWith is Parse with explicit options, e.g. a fixed Environment map in tests.
func ParseWith[T any](opts env.Options) (T, error) {
	cfg, err := env.ParseAsWithOptions[T](opts)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: %w", err)
	}
	if v, ok := any(&cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			var zero T
			return zero, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}
