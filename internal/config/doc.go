// Package config loads passkeyd configuration from YAML files.
//
// Environment variables in ${VAR_NAME} form are expanded before parsing,
// duration fields accept Go duration strings ("5m", "90s"), and the
// WebAuthn relying-party identity can be derived from server.base_url
// instead of being spelled out.
package config
