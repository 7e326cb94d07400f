// Package config loads ctt configuration. Values come from built-in
// defaults, overridden by an optional YAML file, overridden in turn by
// CTT_ prefixed environment variables (CTT_STORAGE_DRIVER for
// storage.driver).
package config
