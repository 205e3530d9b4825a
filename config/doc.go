// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including the key source, store, retry, cache and server settings.
package config
