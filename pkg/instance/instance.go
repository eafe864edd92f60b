// Package instance names the running replica in startup logs.
package instance

import (
	"os"
	"strings"
)

const defaultID = "fooddash-0"

var idKeys = []string{"FOODDASH_INSTANCE_ID", "WORKER_ID"}

// GetID returns FOODDASH_INSTANCE_ID, then WORKER_ID, then the host name.
func GetID() string {
	for _, key := range idKeys {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}
