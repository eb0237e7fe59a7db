package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Cost = bcrypt.MinCost
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong horse battery")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	cfg := fastConfig()

	if _, err := cfg.Verify("not-a-bcrypt-hash", "whatever1"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestVerify_RejectsExcessiveCost(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxCost = bcrypt.MinCost

	h, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost+1)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := cfg.Verify(string(h), "correct horse battery"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash for cost above MaxCost, got %v", err)
	}
}

func TestValidate_Policy(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16

	cases := []struct {
		in   string
		want error
	}{
		{in: "short", want: ErrPasswordTooShort},
		{in: "this password is far too long", want: ErrPasswordTooLong},
		{in: "aaaaaaaaaa", want: ErrWeakPassword},
		{in: "12345678", want: ErrWeakPassword},
		{in: "Password", want: ErrWeakPassword},
		{in: "tidy-otter-42", want: nil},
	}

	for _, tc := range cases {
		if got := cfg.Validate(tc.in); got != tc.want {
			t.Fatalf("Validate(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestValidate_ByteLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy.MaxLength = 100

	// 40 runes, 80 bytes.
	pw := ""
	for i := 0; i < 40; i++ {
		pw += "é"
	}
	if err := cfg.Validate(pw); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong for >72 bytes, got %v", err)
	}
}
