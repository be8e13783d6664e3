package main

import (
	"os"
)

type Config struct {
	CacheDir      string // Cache directory for the file backend (default: ./tokencache)
	CacheDB       string // Optional: sqlite database file; set to use the sqlite backend instead of files
	SecretKeyPath string // Optional: path to the at-rest encryption secret; empty means plaintext
	LogLevel      string // Log level (debug, info, warn, error) (default: info)
	LogFormat     string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		CacheDir:      getEnvOrDefault("CACHE_DIR", "tokencache"),
		CacheDB:       os.Getenv("CACHE_DB"),
		SecretKeyPath: os.Getenv("CACHE_SECRET_KEY_PATH"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
