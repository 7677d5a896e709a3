// Package config loads stacksync settings and stack credentials.
//
// Settings come from, lowest precedence first: built-in defaults, an
// optional YAML config file, then STACKSYNC_* environment variables. The
// CLI applies explicit flags on top. The merged result is checked against
// an embedded CUE schema before use.
//
// Credentials live in a separate YAML file naming the source and
// destination endpoints.
package config
