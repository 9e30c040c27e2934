package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikeydub/go-collab/service/logger"
	"github.com/spf13/viper"
)

// ContainsAnyStringFold checks whether a string contains any of the given substrings,
// ignoring case
func ContainsAnyStringFold(s string, strs ...string) bool {
	s = strings.ToLower(s)
	for _, v := range strs {
		if strings.Contains(s, strings.ToLower(v)) {
			return true
		}
	}

	return false
}

func Contains[T comparable](s []T, str T) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}

	return false
}

// FromPointer returns the value of a pointer, or the zero value of the pointer's type if the pointer is nil.
func FromPointer[T any](s *T) T {
	if s == nil {
		return *new(T)
	}
	return *s
}

func TruncateWithEllipsis(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length]) + "..."
}

// FindFile finds a file relative to the working directory
// by searching outer directories up to the search depth.
func FindFile(f string, searchDepth int) (string, error) {
	if _, err := os.Stat(f); err == nil {
		return f, nil
	}

	for i := 0; i < searchDepth; i++ {
		f = filepath.Join("..", f)
		if _, err := os.Stat(f); err == nil {
			return f, nil
		}
	}

	return "", fmt.Errorf("could not find file '%s' in path", f)
}

// ResolveEnvFile returns the config file name for the given service and environment.
func ResolveEnvFile(service string, env string) string {
	switch env {
	case "local", "dev", "prod":
		return fmt.Sprintf("app-%s-%s.yaml", env, service)
	}
	return fmt.Sprintf("app-local-%s.yaml", service)
}

// LoadEnvFile merges settings from a YAML file under _local into viper. A missing
// file is not an error: every setting has a default and can come from the process env.
func LoadEnvFile(fileName string) error {
	filePath := filepath.Join("_local", fileName)
	path, err := FindFile(filePath, 3)
	if err != nil {
		logger.For(nil).Debugf("no config file at %s, using defaults and environment", filePath)
		return nil
	}

	logger.For(nil).Infof("configuring environment with settings from %s", path)
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("error reading config %s: %w", path, err)
	}
	return nil
}

