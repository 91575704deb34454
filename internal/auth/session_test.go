package auth

import (
	"testing"
	"time"
)

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	s, err := NewSessions("user-secret-for-tests", "company-secret-for-tests", time.Hour)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestSessions(t)

	token, err := s.Issue(SessionUser, "user-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := s.Verify(SessionUser, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("subject = %q, want user-123", claims.Subject)
	}
	if claims.Kind != SessionUser {
		t.Errorf("kind = %q, want user", claims.Kind)
	}
}

func TestSessionKindsUseSeparateSecrets(t *testing.T) {
	s := newTestSessions(t)

	userToken, err := s.Issue(SessionUser, "user-123")
	if err != nil {
		t.Fatalf("Issue user: %v", err)
	}
	companyToken, err := s.Issue(SessionCompany, "comp-456")
	if err != nil {
		t.Fatalf("Issue company: %v", err)
	}

	if _, err := s.Verify(SessionCompany, userToken); err == nil {
		t.Error("user token verified as a company session")
	}
	if _, err := s.Verify(SessionUser, companyToken); err == nil {
		t.Error("company token verified as a user session")
	}
}

func TestSessionRejectsGarbage(t *testing.T) {
	s := newTestSessions(t)

	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := s.Verify(SessionUser, token); err == nil {
			t.Errorf("Verify(%q) succeeded, want error", token)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	s := newTestSessions(t)
	// A non-positive TTL is replaced with the default by the
	// constructor, so force an already-expired lifetime directly.
	s.ttl = -time.Minute

	token, err := s.Issue(SessionUser, "user-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s.Verify(SessionUser, token); err == nil {
		t.Error("expired token verified")
	}
}

func TestSessionRequiresSubject(t *testing.T) {
	s := newTestSessions(t)
	if _, err := s.Issue(SessionUser, "  "); err == nil {
		t.Error("Issue with blank subject succeeded")
	}
}

func TestSessionRequiresSecrets(t *testing.T) {
	if _, err := NewSessions("", "company", time.Hour); err == nil {
		t.Error("NewSessions with empty user secret succeeded")
	}
	if _, err := NewSessions("user", "  ", time.Hour); err == nil {
		t.Error("NewSessions with blank company secret succeeded")
	}
}
