// Package netx holds small address utilities shared by the middleware.
package netx

import (
	"fmt"
	"net/netip"
	"strings"
)

// PrefixSet answers membership questions for a fixed list of CIDR
// blocks, used to decide which peers' forwarding headers are trusted.
type PrefixSet struct {
	prefixes []netip.Prefix
}

// ParsePrefixSet accepts CIDR notation or bare addresses (treated as
// single-host prefixes). Empty entries are skipped.
func ParsePrefixSet(items []string) (*PrefixSet, error) {
	set := &PrefixSet{}
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid ip %q: %w", s, err)
			}
			set.prefixes = append(set.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", s, err)
		}
		set.prefixes = append(set.prefixes, p.Masked())
	}
	return set, nil
}

func (s *PrefixSet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
