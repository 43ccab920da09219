// Package peerid derives a short, stable display tag from a peer's raw
// fabric address bytes, for log lines and snapshot rows. Never used as
// a protocol identifier -- those remain pool indices and AV handles
// (spec.md §9).
package peerid

import (
	"fmt"
	"hash/fnv"
)

// cachedHostPrefix identifies this process instance in every tag it
// produces (hostname isn't available to this package in the general
// case, so the caller supplies it once via SetInstancePrefix).
var cachedHostPrefix = ""

// SetInstancePrefix records the string every tag this package produces
// is prefixed with, normally the process's hostname plus pid. Safe to
// call once at startup before any peer traffic arrives; unset leaves
// tags prefix-less.
func SetInstancePrefix(prefix string) {
	cachedHostPrefix = prefix
}

// FromAddr derives a short, stable display tag for a peer's raw
// fabric address bytes: an FNV-1a hash rendered as hex, prefixed by
// the instance prefix if one was set. Two different address byte
// strings collide only as likely as a 64-bit hash collision; this is a
// log/debug convenience, not a protocol guarantee.
func FromAddr(addr []byte) string {
	h := fnv.New64a()
	h.Write(addr)
	sum := h.Sum64()
	if cachedHostPrefix == "" {
		return fmt.Sprintf("%X", sum)
	}
	return fmt.Sprintf("%s_%X", cachedHostPrefix, sum)
}
