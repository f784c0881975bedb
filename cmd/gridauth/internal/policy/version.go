// Package policy tracks the authorization policy version.
package policy

import (
	"strconv"
	"sync/atomic"
)

// Header carries the current policy version on every response.
const Header = "X-Policy-Version"

// Version is a monotonically increasing counter bumped on every
// administrative role or permission change. Construct one per process and
// pass it by reference.
type Version struct {
	n atomic.Uint64
}

// NewVersion creates a counter starting at initial.
func NewVersion(initial uint64) *Version {
	v := &Version{}
	v.n.Store(initial)
	return v
}

// Current returns the current version.
func (v *Version) Current() uint64 {
	return v.n.Load()
}

// Bump increments the version and returns the new value.
func (v *Version) Bump() uint64 {
	return v.n.Add(1)
}

// String formats the current version for the response header.
func (v *Version) String() string {
	return strconv.FormatUint(v.Current(), 10)
}
