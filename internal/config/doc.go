// Package config handles configuration loading for zgate.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ZGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/zgate/gateway.yaml
//  3. ~/.config/zgate/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML. A
// missing file section keeps its default.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ZGATE_SECRET_FROM_VAULT}"
//
// After the file is parsed these override it:
//
//	ZGATE_HOST, ZGATE_PORT, ZGATE_REQUIRE_AUTH, ZGATE_ALLOWED_ORIGINS (comma
//	separated), ZGATE_JWT_SECRET, ZGATE_DB_PATH, ZGATE_LOG_LEVEL
//
// # Configuration Sections
//
//	server:
//	  host: "127.0.0.1"
//	  port: 8080
//
//	auth:
//	  require_auth: true          # false admits every connection as guest
//	  jwt_secret: "..."           # at least 32 bytes when auth is required
//	  token_ttl: "24h"
//	  allowed_origins: []         # empty = localhost, 127.0.0.1 and [::1] only
//	  cache_ttl: "1m"
//	  cache_size: 1024
//	  apps:                       # optional per-application table layouts
//	    crm:
//	      table: members
//	      id_field: member_id
//	      username_field: handle
//	      role_field: tier
//	      token_field: secret
//
//	database:
//	  path: "~/.local/share/zgate/gateway.db"
//
//	gateway:
//	  max_message_size: 65536
//	  max_inflight_commands: 16
//	  send_queue_size: 256
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//	  command_timeout: "30s"
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax.
package config
