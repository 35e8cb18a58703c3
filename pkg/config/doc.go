// Package config provides configuration management for the chat relay.
//
// This package handles loading, validating, and defaulting configuration
// from YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("relay.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD:
//
//   - RELAY_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - RELAY_UPSTREAM_READ_TIMEOUT overrides upstream.read_timeout
//   - RELAY_THREADS_BACKEND overrides threads.backend
//
// API_URL sets upstream.url. API_KEY is read through the default env
// secret provider as the "api-key" secret. When both are set the
// configuration file may be absent.
//
// # Configuration Precedence
//
//  1. Values from YAML file
//  2. Environment variable overrides
//  3. Default values for anything still unset (defined in defaults.go)
//  4. Validation (fails fast if invalid)
//
// # Validation
//
// Validation errors include field paths:
//
//	configuration validation failed with 2 errors:
//	  - upstream.url: field is required (or set API_URL)
//	  - threads.backend: unknown backend "redis" (expected memory, sqlite, postgres or dynamodb)
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	upstream:
//	  url: "https://completions.internal/v1/stream"
//	  thread_field: "thread_id"
//	  retry:
//	    max_attempts: 3
//
//	threads:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/threads.db"
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
