package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName    = ".legion-missions"
	environmentsFile = "environments.yaml"
)

// Environment is a Legion deployment that drone positions can be
// published to. APIKey names an environment variable holding the key.
type Environment struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`
}

// Environments holds the configured Legion environments
type Environments struct {
	Environments []Environment `yaml:"environments"`
	Selected     string        `yaml:"selected,omitempty"`
}

// EnvironmentsPath returns the default location of the environments file
func EnvironmentsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, configDirName, environmentsFile), nil
}

// LoadEnvironments loads environments from the default location
func LoadEnvironments() (*Environments, error) {
	path, err := EnvironmentsPath()
	if err != nil {
		return nil, err
	}
	return LoadEnvironmentsFromFile(path)
}

// LoadEnvironmentsFromFile loads environments from a specific file. A
// missing file yields an empty set.
func LoadEnvironmentsFromFile(path string) (*Environments, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Environments{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environments file: %w", err)
	}

	var envs Environments
	if err := yaml.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("failed to parse environments file: %w", err)
	}

	return &envs, nil
}

// SaveEnvironments saves environments to the default location
func SaveEnvironments(envs *Environments) error {
	path, err := EnvironmentsPath()
	if err != nil {
		return err
	}
	return SaveEnvironmentsToFile(envs, path)
}

// SaveEnvironmentsToFile saves environments to a specific file
func SaveEnvironmentsToFile(envs *Environments, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(envs)
	if err != nil {
		return fmt.Errorf("failed to marshal environments: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write environments file: %w", err)
	}

	return nil
}

// Find looks up an environment by name, case-insensitively
func (e *Environments) Find(name string) (Environment, bool) {
	for _, env := range e.Environments {
		if strings.EqualFold(env.Name, name) {
			return env, true
		}
	}
	return Environment{}, false
}

// Add appends an environment, failing if the name is taken
func (e *Environments) Add(env Environment) error {
	if env.Name == "" || env.URL == "" {
		return fmt.Errorf("environment name and url are required")
	}
	if _, exists := e.Find(env.Name); exists {
		return fmt.Errorf("environment %q already exists", env.Name)
	}
	e.Environments = append(e.Environments, env)
	return nil
}

// Remove deletes an environment by name and clears the selection if it
// pointed there
func (e *Environments) Remove(name string) bool {
	for i, env := range e.Environments {
		if strings.EqualFold(env.Name, name) {
			e.Environments = append(e.Environments[:i], e.Environments[i+1:]...)
			if strings.EqualFold(e.Selected, name) {
				e.Selected = ""
			}
			return true
		}
	}
	return false
}

// Resolve returns the environment to publish to: the named one, else the
// selected one, else the only one configured
func (e *Environments) Resolve(name string) (Environment, error) {
	if name == "" {
		name = e.Selected
	}
	if name != "" {
		if env, ok := e.Find(name); ok {
			return env, nil
		}
		return Environment{}, fmt.Errorf("environment %q not found", name)
	}
	if len(e.Environments) == 1 {
		return e.Environments[0], nil
	}
	return Environment{}, fmt.Errorf("%d environments configured, select one with --env or 'env select'", len(e.Environments))
}
