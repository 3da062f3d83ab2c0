// Package id generates the short, URL-safe, collision-resistant
// identifiers used for job records.
package id

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// New generates a new job id: a random UUIDv4 encoded as unpadded
// base64url, giving a 22-character URL-safe string with the same
// collision resistance as the underlying UUID.
func New() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])
}
