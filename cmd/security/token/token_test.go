package token

import (
	"strings"
	"testing"
)

func TestHasher_SHA256Fallback(t *testing.T) {
	h := NewHasher(nil)
	if h.Keyed() {
		t.Fatalf("expected unkeyed hasher")
	}
	got := h.Hash("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("Hash=%s want=%s", got, want)
	}
}

func TestHasher_HMACDiffersPerKey(t *testing.T) {
	a := NewHasher([]byte(strings.Repeat("a", 32)))
	b := NewHasher([]byte(strings.Repeat("b", 32)))

	if !a.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
	if a.Hash("tok") == b.Hash("tok") {
		t.Fatalf("different keys must produce different digests")
	}
	if a.Hash("tok") != a.Hash("tok") {
		t.Fatalf("digest must be stable")
	}
	if len(a.Hash("tok")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
	if a.Hash("tok") == HashSHA256Hex("tok") {
		t.Fatalf("keyed digest must differ from plain sha256")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Run("missing optional", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "")
		h, err := HasherFromEnv(false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Keyed() {
			t.Fatalf("expected sha256 fallback")
		}
	})

	t.Run("missing required", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "  ")
		if _, err := HasherFromEnv(true); err != ErrHMACKeyMissing {
			t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "short")
		if _, err := HasherFromEnv(false); err != ErrHMACKeyTooShort {
			t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
		}
	})

	t.Run("valid", func(t *testing.T) {
		t.Setenv(HMACEnvKey, strings.Repeat("k", 40))
		h, err := HasherFromEnv(true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.Keyed() {
			t.Fatalf("expected keyed hasher")
		}
	})
}
