package security

import (
	"errors"
	"testing"
	"time"
)

func TestInspectToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	info, err := InspectToken(NewTestToken("u1", exp))
	if err != nil {
		t.Fatalf("InspectToken: %v", err)
	}
	if info.Subject != "u1" {
		t.Errorf("Subject = %q, want %q", info.Subject, "u1")
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, exp)
	}
	if info.Expired(time.Now()) {
		t.Error("token expiring in an hour should not be expired")
	}
}

func TestInspectToken_Expired(t *testing.T) {
	info, err := InspectToken(NewTestToken("u1", time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("InspectToken should not validate exp: %v", err)
	}
	if !info.Expired(time.Now()) {
		t.Error("token should be expired")
	}
}

func TestInspectToken_NoExp(t *testing.T) {
	info, err := InspectToken(NewTestToken("u1", time.Time{}))
	if err != nil {
		t.Fatalf("InspectToken: %v", err)
	}
	if !info.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", info.ExpiresAt)
	}
	if info.Expired(time.Now()) {
		t.Error("token without exp should never be expired")
	}
}

func TestInspectToken_Invalid(t *testing.T) {
	for _, tok := range []string{"", "   ", "opaque-token", "a.b.c"} {
		if _, err := InspectToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("InspectToken(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
}
