package peerid_test

import (
	"strings"
	"testing"

	"github.com/m-lab/rdmtp/internal/peerid"
)

func TestFromAddrStableAndDistinct(t *testing.T) {
	a := peerid.FromAddr([]byte{1, 2, 3, 4})
	b := peerid.FromAddr([]byte{1, 2, 3, 4})
	if a != b {
		t.Errorf("FromAddr not stable: %q != %q", a, b)
	}

	c := peerid.FromAddr([]byte{1, 2, 3, 5})
	if a == c {
		t.Errorf("FromAddr gave the same tag for different addresses: %q", a)
	}
}

func TestFromAddrWithInstancePrefix(t *testing.T) {
	peerid.SetInstancePrefix("host1_42")
	defer peerid.SetInstancePrefix("")

	tag := peerid.FromAddr([]byte{9, 9, 9})
	if !strings.HasPrefix(tag, "host1_42_") {
		t.Errorf("FromAddr = %q, want prefix %q", tag, "host1_42_")
	}
}
