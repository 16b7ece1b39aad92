// Package config handles configuration loading for pulsar-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PULSAR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/pulsar/gateway.yaml
//  3. ~/.config/pulsar/gateway.yaml
//
// Files with a .toml extension are read as TOML, anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  dsn: "${PULSAR_DATABASE_DSN}"
//
// PULSAR_DB_PATH, when set, replaces database.path.
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	database:
//	  driver: "sqlite"
//	  path: "~/.local/share/pulsar/gateway.db"
//	program:
//	  treasury: "<hex token account owned by the gateway>"
//	  mint: "<hex mint>"
//	  admin_api: false
//	auth:
//	  max_age: "5m"
//	events:
//	  redis_addr: "localhost:6379"
//	  redis_stream: "pulsar:events"
//	logging:
//	  level: "info"
//	  format: "text"
package config
