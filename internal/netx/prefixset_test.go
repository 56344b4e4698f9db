package netx

import (
	"net/netip"
	"testing"
)

func TestPrefixSetContains(t *testing.T) {
	set, err := ParsePrefixSet([]string{"10.0.0.0/8", "127.0.0.1", ""})
	if err != nil {
		t.Fatal(err)
	}
	for _, ip := range []string{"10.1.2.3", "127.0.0.1"} {
		if !set.Contains(netip.MustParseAddr(ip)) {
			t.Fatalf("expected %s to be contained", ip)
		}
	}
	if set.Contains(netip.MustParseAddr("192.168.1.1")) {
		t.Fatal("did not expect 192.168.1.1 to be contained")
	}
	// 4-in-6 form of a trusted v4 address still matches.
	if !set.Contains(netip.MustParseAddr("::ffff:10.1.2.3")) {
		t.Fatal("expected mapped v4 address to be contained")
	}
}

func TestPrefixSetRejectsGarbage(t *testing.T) {
	if _, err := ParsePrefixSet([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParsePrefixSet([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected cidr error")
	}
}

func TestNilSetContainsNothing(t *testing.T) {
	var set *PrefixSet
	if set.Contains(netip.MustParseAddr("127.0.0.1")) {
		t.Fatal("nil set must contain nothing")
	}
}
