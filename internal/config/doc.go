// Package config loads the add-on configuration from a YAML file and
// the environment. Defaults match a supervised Home Assistant add-on
// installation; a missing config file is not an error.
package config
