package client

import "os"

// NewLegionClient creates a client authenticating with an API key
func NewLegionClient(baseURL string, apiKey string) (*Legion, error) {
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
	})
}

// GetAPIKey resolves an environment's api_key setting, which names the
// environment variable holding the key
func GetAPIKey(envVarName string) string {
	if envVarName == "" {
		return ""
	}
	return os.Getenv(envVarName)
}
