package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stacksync/internal/stack"
)

// Credentials names the two stacks of a migration.
//
// Example:
//
//	source:
//	  url: https://prod.example.org/repo/v1
//	  username: migrationAdmin
//	  api_key: ...
//	destination:
//	  url: https://staging.example.org/repo/v1
//	  username: migrationAdmin
//
// An empty api_key is filled from STACKSYNC_SOURCE_API_KEY or
// STACKSYNC_DESTINATION_API_KEY.
type Credentials struct {
	Source      stack.Endpoint `yaml:"source"`
	Destination stack.Endpoint `yaml:"destination"`
}

// LoadCredentials reads and validates a credentials file. Unknown keys are
// rejected.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}

	if creds.Source.APIKey == "" {
		creds.Source.APIKey = os.Getenv(EnvPrefix + "_SOURCE_API_KEY")
	}
	if creds.Destination.APIKey == "" {
		creds.Destination.APIKey = os.Getenv(EnvPrefix + "_DESTINATION_API_KEY")
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate checks that both endpoints are usable and distinct.
func (c Credentials) Validate() error {
	var problems []string
	if c.Source.URL == "" {
		problems = append(problems, "source.url is required")
	}
	if c.Destination.URL == "" {
		problems = append(problems, "destination.url is required")
	}
	if c.Source.URL != "" && c.Source.URL == c.Destination.URL {
		problems = append(problems, "source and destination must be different stacks")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Factory builds HTTP clients for both endpoints.
func (c Credentials) Factory(opts ...stack.HTTPOption) (stack.Factory, error) {
	src, err := stack.NewHTTPClient(c.Source, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dest, err := stack.NewHTTPClient(c.Destination, opts...)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	return stack.StaticFactory{Src: src, Dest: dest}, nil
}
