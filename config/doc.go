// Package config loads host configuration from a YAML file with
// environment-variable overrides (VOICERT_*). Filesystem access goes
// through afero and the environment through an injectable lookup, so
// loading is fully testable. Validate fills every unset field with its
// default, including the default wake-word list.
package config
