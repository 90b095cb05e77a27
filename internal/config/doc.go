// Package config loads back-chat's server configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// JSON file, then BACKCHAT_* environment variables. Later layers win.
package config
