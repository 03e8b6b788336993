package instance

import (
	"os"

	"github.com/stitchline/storefront-backend/pkg/env"
)

// GetID identifies the running replica in logs and lock ownership.
// STOREFRONT_INSTANCE_ID wins, then the platform dyno name, then the hostname.
func GetID() string {
	if id, ok := env.Lookup("INSTANCE_ID", "DYNO"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
