// Package config loads and validates the application configuration.
//
// Configuration is read from an optional config.yaml in the working
// directory and then overridden by environment variables with the VARSYS
// prefix (e.g. VARSYS_SERVER_PORT, VARSYS_PATHS_DATA_DIR).
//
// Secret material is environment-only:
//
//	VARSYS_APP_SECRET     master secret for the license-file key
//	VARSYS_VAULT_SECRET   master secret for the vault key
//	VARSYS_INTEGRITY_KEY  keyed-hash secret for signatures and integrity hashes
//
// When a secret variable is unset a built-in development value is used and
// Secrets.DevDefaults is set, which the server logs as a warning at startup.
package config
