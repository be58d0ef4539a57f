// Package invite holds the invitation state machine: the token format, the
// expiry window, and the lazily-evaluated effective status. Persistence side
// effects stay with the caller.
package invite

import (
	crand "crypto/rand"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// TTL is the validity window of a freshly created invitation.
const TTL = 7 * 24 * time.Hour

// EffectiveStatus is the status an invitation has at instant now. A pending
// invitation past its expiry reads as expired even before anything persists
// the flip; terminal states are returned as stored.
func EffectiveStatus(status Status, expiresAt time.Time, now time.Time) Status {
	if status == StatusPending && expiresAt.Before(now) {
		return StatusExpired
	}
	return status
}

// IsExpired reports whether the expiry instant has passed, independent of the
// stored status. List and detail responses annotate with this.
func IsExpired(expiresAt time.Time, now time.Time) bool {
	return expiresAt.Before(now)
}

// Terminal reports whether a status permits no further transitions.
func Terminal(status Status) bool {
	return status == StatusAccepted || status == StatusDeclined || status == StatusExpired
}

// NewToken returns an unguessable invitation token. 32 random bytes mapped
// onto a 62-character alphabet keeps well over 128 bits of entropy.
func NewToken() string {
	b := make([]byte, 32)
	if _, err := crand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
