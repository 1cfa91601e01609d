// Package config loads and validates simstatus configuration from YAML.
//
// Configuration files support ${VAR} environment variable expansion.
// Optional fields receive defaults via LoadWithDefaults; required fields
// are checked by Validate.
package config
