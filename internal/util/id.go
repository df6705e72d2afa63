package util

import (
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// NewID returns a short sortable identifier, optionally prefixed.
// Documents and persons use these so on-disk directories sort by creation time.
func NewID(prefix string) string {
	id := xid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewRequestID returns a UUID for render requests.
func NewRequestID() string {
	return uuid.NewString()
}
