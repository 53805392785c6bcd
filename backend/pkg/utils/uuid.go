package utils

import "github.com/google/uuid"

// NewUUID returns a time ordered (v7) UUID string.
func NewUUID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	panic("failed to generate UUID")
}

// NewClientID returns an MQTT client identifier with the given prefix.
// The random suffix keeps concurrent dashboards from kicking each other off the broker.
func NewClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
