package account

import (
	"fmt"
	"strings"
)

// Tier is the ordered capability level attached to an account. The ordering
// is total: Basic < Pro < Admin.
type Tier int

const (
	TierBasic Tier = iota
	TierPro
	TierAdmin
)

var tierNames = map[Tier]string{
	TierBasic: "basic",
	TierPro:   "pro",
	TierAdmin: "admin",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is a member of the closed set.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// AtLeast reports whether t grants everything other grants.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// ParseTier maps a stored or transported name back to a Tier. Unknown names
// are an error, never a silent downgrade.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("account: unknown tier %q", s)
}
