package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iss := Issuer{Secret: "secret", TTL: time.Hour, Now: func() time.Time { return now }}
	token, exp, err := iss.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := iss.Verify(token)
	if err != nil || claims.Subject != "user-1" || claims.Username != "ana" {
		t.Fatalf("verify: %+v %v", claims, err)
	}

	other := Issuer{Secret: "other", Now: iss.Now}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("token verified with wrong secret")
	}
	late := Issuer{Secret: "secret", Now: func() time.Time { return now.Add(2 * time.Hour) }}
	if _, err := late.Verify(token); err == nil {
		t.Fatalf("expired token verified")
	}
	if _, _, err := (Issuer{}).Issue("user-1", ""); err == nil {
		t.Fatalf("expected error without secret")
	}
}
