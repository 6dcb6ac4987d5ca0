package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mattjoyce/aobridge/internal/config"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := []config.TokenConfig{
		{Token: "reader", Scopes: []string{"ledger:ro", " "}},
		{Token: "writer", Scopes: []string{"ledger:rw"}},
	}

	tests := []struct {
		name      string
		presented string
		wantOK    bool
		allowed   []string
		denied    []string
	}{
		{"legacy key", "admin", true, []string{ScopeLedgerRW, ScopeJournalRO}, nil},
		{"read token", "reader", true, []string{ScopeLedgerRO}, []string{ScopeLedgerRW, ScopeJournalRO}},
		{"write implies read", "writer", true, []string{ScopeLedgerRO, ScopeLedgerRW}, []string{ScopeJournalRO}},
		{"unknown", "nope", false, nil, nil},
		{"empty", "", false, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Authenticate(tt.presented, "admin", tokens)
			if ok != tt.wantOK {
				t.Fatalf("Authenticate ok = %v, want %v", ok, tt.wantOK)
			}
			for _, s := range tt.allowed {
				if !HasAnyScope(p, s) {
					t.Errorf("expected scope %q", s)
				}
			}
			for _, s := range tt.denied {
				if HasAnyScope(p, s) {
					t.Errorf("unexpected scope %q", s)
				}
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer  tok ")
	got, err := ExtractBearerToken(req)
	if err != nil || got != "tok" {
		t.Fatalf("ExtractBearerToken = %q, %v", got, err)
	}

	req.Header.Set("Authorization", "Token tok")
	if _, err := ExtractBearerToken(req); err == nil {
		t.Fatal("expected error for non-bearer header")
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	if _, ok := PrincipalFromContext(req.Context()); ok {
		t.Fatal("unexpected principal")
	}
	ctx := WithPrincipal(req.Context(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "x" {
		t.Fatalf("principal = %+v, %v", p, ok)
	}
}

func TestKnownScope(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"*", "ledger:ro", "ledger:rw", " journal:ro "} {
		if !KnownScope(s) {
			t.Errorf("KnownScope(%q) = false", s)
		}
	}
	for _, s := range []string{"", "ledger", "journal:rw", "admin:*"} {
		if KnownScope(s) {
			t.Errorf("KnownScope(%q) = true", s)
		}
	}
}
