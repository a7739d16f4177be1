package auth

import (
	"testing"
	"time"
)

func TestIssueProducesFreshTokens(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	// A deployment spans many control calls; every one gets its own token.
	first, err := issuer.Issue()
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := issuer.Issue()
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first == second {
		t.Error("two consecutive issues returned identical tokens")
	}

	for _, token := range []string{first, second} {
		if err := Validate(token, "test-secret"); err != nil {
			t.Errorf("issued token failed validation: %v", err)
		}
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", token, "other-secret"},
		{"garbage token", "not-a-jwt", "test-secret"},
		{"empty secret", token, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.token, tc.secret); err == nil {
				t.Error("validation succeeded, want error")
			}
		})
	}
}

func TestIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("  ", time.Minute); err == nil {
		t.Error("issuer accepted a blank secret")
	}
}
