package model

import (
	"regexp"
	"testing"
	"time"
)

var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewColdStartIDFormat(t *testing.T) {
	id := NewColdStartID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewColdStartID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewColdStartIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewColdStartID()
		if seen[id] {
			t.Fatalf("NewColdStartID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestSessionTokenExpired(t *testing.T) {
	now := time.Now()
	tok := SessionToken{ExpiresAt: now.Add(time.Hour)}
	if tok.Expired(now) {
		t.Error("token should not be expired an hour before expiry")
	}
	if !tok.Expired(now.Add(2 * time.Hour)) {
		t.Error("token should be expired two hours after creation")
	}
}

func TestMintRefreshThreshold(t *testing.T) {
	cases := []struct {
		ttl  uint32
		want uint32
	}{
		{100, 50},
		{1000, 300},
		{600, 300},
		{10, 5},
	}
	for _, c := range cases {
		if got := MintRefreshThreshold(c.ttl); got != c.want {
			t.Errorf("MintRefreshThreshold(%d) = %d, want %d", c.ttl, got, c.want)
		}
	}
}

func TestClassifyIdentifier(t *testing.T) {
	cases := []struct {
		id   string
		want IdentifierShape
	}{
		{"dQw4w9WgXcQ", ShapeContentID},
		{"CgtDZjBSbE5uZDJlQSij6bbFBjIKCgJVUxIEGgAgYA", ShapeVisitorData},
		{"short", ShapeColdStart},
		{"", ShapeColdStart},
	}
	for _, c := range cases {
		if got := ClassifyIdentifier(c.id); got != c.want {
			t.Errorf("ClassifyIdentifier(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestCacheKeyDerivation(t *testing.T) {
	cases := []struct {
		name string
		spec ProxySpec
		want string
	}{
		{"remote host wins", ProxySpec{Proxy: "p", SourceAddress: "s", RemoteHost: "r"}, "r"},
		{"proxy and source", ProxySpec{Proxy: "http://proxy:8080", SourceAddress: "192.168.1.1"}, "http://proxy:8080:192.168.1.1"},
		{"proxy only", ProxySpec{Proxy: "http://proxy:8080"}, "proxy:http://proxy:8080"},
		{"source only", ProxySpec{SourceAddress: "192.168.1.1"}, "source:192.168.1.1"},
		{"neither", ProxySpec{}, "default"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.spec.CacheKey(); got != c.want {
				t.Errorf("CacheKey() = %q, want %q", got, c.want)
			}
		})
	}
}
