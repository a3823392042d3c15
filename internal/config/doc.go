// Package config loads, normalizes, and validates Storyreel configuration data.
package config
