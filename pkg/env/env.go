// Package env reads process settings that live outside config.Config, such as
// log formatting and replica identity.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Prefix namespaces storefront variables. Lookups try the prefixed name first.
const Prefix = "STOREFRONT_"

// Lookup returns the first non-empty value among the prefixed form of key,
// key itself and any fallbacks keys, in that order.
func Lookup(key string, fallbackKeys ...string) (string, bool) {
	keys := append([]string{Prefix + key, key}, fallbackKeys...)
	for _, k := range keys {
		if val := strings.TrimSpace(os.Getenv(k)); val != "" {
			return val, true
		}
	}
	return "", false
}

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val, ok := Lookup(key); ok {
		return val
	}
	return fallback
}

// Bool parses a boolean variable. Unparseable values yield the fallback.
func Bool(key string, fallback bool) bool {
	val, ok := Lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
