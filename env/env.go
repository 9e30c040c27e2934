package env

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/spf13/viper"
)

var validators = map[string][]string{}

var v = validator.New()

var validatorsMu = &sync.Mutex{}

// RegisterValidation attaches validator tags to an env var. The tags are checked every
// time the var is read.
func RegisterValidation(name string, tags ...string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	validators[name] = dedupe(append(validators[name], tags...))
}

// Validate checks every registered var and returns the names that failed.
func Validate(ctx context.Context) []string {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()

	var failed []string
	for name, tags := range validators {
		for _, tag := range tags {
			if err := v.Var(viper.Get(name), tag); err != nil {
				logger.For(ctx).Errorf("invalid env var: %s, tag: %s, err: %s", name, tag, err.Error())
				failed = append(failed, name)
				break
			}
		}
	}
	return failed
}

func checkTags(ctx context.Context, name string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	for _, tag := range validators[name] {
		err := v.Var(viper.Get(name), tag)
		if err != nil {
			logger.For(ctx).Errorf("invalid env var: %s, tag: %s, err: %s", name, tag, err.Error())
		}
	}
}

func GetIfExists[T any](ctx context.Context, name string) (T, bool) {
	checkTags(ctx, name)

	if !viper.IsSet(name) {
		return *new(T), false
	}

	it, ok := viper.Get(name).(T)
	if !ok {
		logger.For(ctx).Errorf("invalid env var: %s, expected type: %T", name, it)
		return *new(T), false
	}

	return it, true
}

func GetString(ctx context.Context, name string) string {
	checkTags(ctx, name)
	return viper.GetString(name)
}

// Values coming from the process environment are always strings, so the numeric
// getters go through viper's casting instead of a type assertion.

func GetInt(ctx context.Context, name string) int {
	checkTags(ctx, name)
	return viper.GetInt(name)
}

func GetBool(ctx context.Context, name string) bool {
	checkTags(ctx, name)
	return viper.GetBool(name)
}

func GetFloat64(ctx context.Context, name string) float64 {
	checkTags(ctx, name)
	return viper.GetFloat64(name)
}

func GetDuration(ctx context.Context, name string) time.Duration {
	checkTags(ctx, name)
	return viper.GetDuration(name)
}

func dedupe(src []string) []string {
	result := src[:0]

	seen := make(map[string]bool)
	for _, x := range src {
		if !seen[x] {
			result = append(result, x)
			seen[x] = true
		}
	}
	return result
}
