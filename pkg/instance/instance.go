package instance

import (
	"os"

	"github.com/angelmondragon/evrent-backend/pkg/env"
)

const fallbackID = "local"

// GetID identifies this process in logs. EVRENT_INSTANCE_ID wins, then the
// platform dyno name, then the hostname.
func GetID() string {
	if id, ok := env.First("EVRENT_INSTANCE_ID", "DYNO"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
