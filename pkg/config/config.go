// Package config loads service configuration from environment variables and
// planning-preference profiles from YAML files.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Addr     string
	LogLevel string

	// DatabaseDriver is "sqlite" or "postgres".
	DatabaseDriver string
	DatabaseURL    string

	// BackendURL is the product backend serving jobs, preferences, and stock.
	BackendURL string

	ReasoningURL    string
	ReasoningAPIKey string
	ReasoningModel  string
	RoutingURL      string
	SupplierURL     string

	ProfilesDir  string
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Addr:           getenv("DAYPLAN_ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DatabaseDriver: getenv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getenv("DATABASE_URL", "file:dayplan.db"),
		BackendURL:     getenv("BACKEND_URL", "http://localhost:9090/api"),

		ReasoningURL:    getenv("REASONING_URL", "https://api.openai.com/v1/chat/completions"),
		ReasoningAPIKey: os.Getenv("REASONING_API_KEY"),
		ReasoningModel:  getenv("REASONING_MODEL", "gpt-4o-mini"),
		RoutingURL:      getenv("ROUTING_URL", "http://localhost:3000/solve"),
		SupplierURL:     getenv("SUPPLIER_URL", "http://localhost:9091/stores/search"),

		ProfilesDir:  getenv("PROFILES_DIR", "profiles"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
