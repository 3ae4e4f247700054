package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestDecoder_Decode(t *testing.T) {
	d := NewDecoder(testSecret, nil)

	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "user-42",
		"email": "dev@example.com",
		"roles": []any{"admin", "editor"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := d.Decode(tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if id.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", id.UserID)
	}
	if id.Email != "dev@example.com" {
		t.Errorf("Email = %q", id.Email)
	}
	if !id.HasRole("admin") || !id.HasRole("editor") {
		t.Errorf("roles missing: %v", id.Roles)
	}
	if id.HasRole("owner") {
		t.Error("HasRole(owner) = true, want false")
	}
	if id.IsAnonymous() {
		t.Error("IsAnonymous() = true for decoded identity")
	}
}

func TestDecoder_DecodeExpired(t *testing.T) {
	d := NewDecoder(testSecret, nil)
	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := d.Decode(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Decode expired token: err = %v, want ErrTokenExpired", err)
	}
}

func TestDecoder_DecodeWrongSecret(t *testing.T) {
	d := NewDecoder(testSecret, nil)
	tok := signToken(t, "someone-else", jwt.MapClaims{"sub": "user-42"})
	if _, err := d.Decode(tok); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("Decode wrong secret: err = %v, want ErrTokenMalformed", err)
	}
}

func TestDecoder_DecodeErrors(t *testing.T) {
	d := NewDecoder(testSecret, nil)
	if _, err := d.Decode(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty token: err = %v, want ErrMissingToken", err)
	}
	if _, err := d.Decode("not.a.jwt"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("garbage token: err = %v, want ErrTokenMalformed", err)
	}

	disabled := NewDecoder("", nil)
	if _, err := disabled.Decode("anything"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("no secret: err = %v, want ErrNoSecret", err)
	}
}

func TestDecoder_FromHeader(t *testing.T) {
	d := NewDecoder(testSecret, nil)
	tok := signToken(t, testSecret, jwt.MapClaims{"sub": "user-7"})

	if id := d.FromHeader("Bearer " + tok); id == nil || id.UserID != "user-7" {
		t.Errorf("FromHeader valid = %+v", id)
	}
	if id := d.FromHeader(""); id != nil {
		t.Errorf("FromHeader empty = %+v, want nil", id)
	}
	if id := d.FromHeader("Basic dXNlcjpwYXNz"); id != nil {
		t.Errorf("FromHeader basic = %+v, want nil", id)
	}
	if id := d.FromHeader("Bearer bogus"); id != nil {
		t.Errorf("FromHeader bogus = %+v, want nil", id)
	}
}
