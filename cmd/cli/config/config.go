package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultAPIURL = "http://localhost:8080"
	tokenFileName = ".rsched_token"
)

// ErrNoToken is returned when neither RSCHED_TOKEN nor the token file is set.
var ErrNoToken = errors.New("no API token: set RSCHED_TOKEN or write it to ~/" + tokenFileName)

// APIURL returns the base URL for the scheduler API.
// It can be overridden with the RSCHED_API_URL environment variable.
func APIURL() string {
	if v := os.Getenv("RSCHED_API_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultAPIURL
}

// Token returns the workspace bearer token from RSCHED_TOKEN, falling back to ~/.rsched_token.
func Token() (string, error) {
	if v := os.Getenv("RSCHED_TOKEN"); v != "" {
		return v, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	if err != nil {
		return "", ErrNoToken
	}
	if tok := strings.TrimSpace(string(data)); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}
