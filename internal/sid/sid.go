// Package sid generates opaque, unguessable session identifiers, adapted
// from the Engine.IO reference generator: 18 random bytes with the last
// 8 overwritten by a monotonic counter (so two ids generated in the same
// process are never equal even under a broken entropy source), rendered as
// unpadded URL-safe base64.
package sid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"sync/atomic"
)

var sequence atomic.Uint64

// New generates a fresh session identifier.
func New() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	binary.BigEndian.PutUint64(buf[10:], sequence.Add(1)-1)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
