package consent

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/datavault/internal/audit"
	"github.com/org/datavault/internal/auth"
	"github.com/org/datavault/internal/notify"
	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
)

const registeredRedirect = "https://acme.example/oauth/callback"

type fixture struct {
	store   *storage.MemoryStore
	keys    *auth.APIKeyService
	service *Service

	company  *models.Company
	user     *models.User
	clientID string
	secret   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyService(store)
	notifier := notify.NewDispatcher(notify.Config{})
	t.Cleanup(notifier.Close)

	f := &fixture{
		store:   store,
		keys:    keys,
		service: NewService(store, keys, audit.NewLogger(store), notifier),
	}

	f.company = &models.Company{
		CompanyID:    "comp-1",
		CompanyName:  "Acme Lending",
		Email:        "eng@acme.example",
		Status:       models.CompanyActive,
		RedirectURIs: []string{registeredRedirect},
	}
	if err := store.CreateCompany(ctx, f.company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	clientID, secret, err := keys.Create(ctx, f.company.CompanyID, "prod")
	if err != nil {
		t.Fatalf("Create api key: %v", err)
	}
	f.clientID, f.secret = clientID, secret

	f.user = &models.User{
		UserID:   "user-1",
		Email:    "ada@example.com",
		Fullname: "Ada Obi",
		Phone:    "+2348012345678",
	}
	if err := store.CreateUser(ctx, f.user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return f
}

func (f *fixture) grant(t *testing.T) string {
	t.Helper()
	redirect, err := f.service.Grant(context.Background(), GrantInput{
		ClientID:      f.clientID,
		UserID:        f.user.UserID,
		RequestedData: []string{"fullname", "bvn"},
		Purpose:       "loan underwriting",
		Duration:      30,
		RedirectURI:   registeredRedirect,
		State:         "xyz123",
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect URL unparsable: %v", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatal("redirect URL missing code parameter")
	}
	return code
}

func TestPreviewRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.service.PreviewRequest(ctx, f.clientID, registeredRedirect)
	if err != nil {
		t.Fatalf("PreviewRequest: %v", err)
	}
	if p.CompanyName != "Acme Lending" {
		t.Errorf("company name = %q", p.CompanyName)
	}

	if _, err := f.service.PreviewRequest(ctx, "dv_ck_unknown", registeredRedirect); !errors.Is(err, protocolerr.NotFound("")) {
		t.Errorf("unknown clientID preview = %v, want not found", err)
	}
	if _, err := f.service.PreviewRequest(ctx, f.clientID, "https://evil.example/cb"); !errors.Is(err, protocolerr.InvalidRedirect("")) {
		t.Errorf("foreign redirect preview = %v, want invalid redirect", err)
	}
	// The redirect is mandatory: a preview without one would render a
	// consent screen for a flow the company cannot complete.
	if _, err := f.service.PreviewRequest(ctx, f.clientID, ""); !errors.Is(err, protocolerr.InvalidRedirect("")) {
		t.Errorf("missing redirect preview = %v, want invalid redirect", err)
	}
}

func TestPreviewRejectsSuspendedCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suspended := &models.Company{
		CompanyID:    "comp-frozen",
		CompanyName:  "Frozen Corp",
		Email:        "eng@frozen.example",
		Status:       models.CompanySuspended,
		RedirectURIs: []string{"https://frozen.example/cb"},
	}
	if err := f.store.CreateCompany(ctx, suspended); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	clientID, _, err := f.keys.Create(ctx, suspended.CompanyID, "prod")
	if err != nil {
		t.Fatalf("Create api key: %v", err)
	}

	if _, err := f.service.PreviewRequest(ctx, clientID, "https://frozen.example/cb"); !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Errorf("suspended company preview = %v, want authentication failure", err)
	}
}

func TestGrantBuildsRedirectWithCodeAndState(t *testing.T) {
	f := newFixture(t)
	redirect, err := f.service.Grant(context.Background(), GrantInput{
		ClientID:      f.clientID,
		UserID:        f.user.UserID,
		RequestedData: []string{"fullname"},
		Purpose:       "kyc",
		Duration:      7,
		RedirectURI:   registeredRedirect,
		State:         "abc",
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if !strings.HasPrefix(redirect, registeredRedirect+"?") {
		t.Errorf("redirect %q does not extend the registered URI", redirect)
	}
	code := u.Query().Get("code")
	if len(code) != 64 {
		t.Errorf("access code length = %d, want 64 hex chars", len(code))
	}
	if u.Query().Get("state") != "abc" {
		t.Errorf("state = %q, want abc", u.Query().Get("state"))
	}

	req, err := f.store.GetAuthorizationRequestByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("request not persisted: %v", err)
	}
	if req.Status != models.RequestPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	ttl := time.Until(req.Expiry)
	if ttl < 4*time.Minute || ttl > 6*time.Minute {
		t.Errorf("code TTL = %v, want about five minutes", ttl)
	}
}

func TestGrantValidation(t *testing.T) {
	f := newFixture(t)
	base := GrantInput{
		ClientID:      f.clientID,
		UserID:        f.user.UserID,
		RequestedData: []string{"fullname"},
		Duration:      30,
		RedirectURI:   registeredRedirect,
	}

	cases := []struct {
		name   string
		mutate func(*GrantInput)
		want   error
	}{
		{"unknown field", func(in *GrantInput) { in.RequestedData = []string{"fullname", "ssn"} }, protocolerr.ValidationFailed("")},
		{"empty scope", func(in *GrantInput) { in.RequestedData = nil }, protocolerr.ValidationFailed("")},
		{"zero duration", func(in *GrantInput) { in.Duration = 0 }, protocolerr.ValidationFailed("")},
		{"duration over a year", func(in *GrantInput) { in.Duration = 366 }, protocolerr.ValidationFailed("")},
		{"unregistered redirect", func(in *GrantInput) { in.RedirectURI = "https://evil.example/cb" }, protocolerr.InvalidRedirect("")},
		{"plain http redirect", func(in *GrantInput) { in.RedirectURI = "http://acme.example/cb" }, protocolerr.InvalidRedirect("")},
		{"relative redirect", func(in *GrantInput) { in.RedirectURI = "/cb" }, protocolerr.InvalidRedirect("")},
		{"unknown user", func(in *GrantInput) { in.UserID = "ghost" }, protocolerr.NotFound("")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.RequestedData = append([]string(nil), base.RequestedData...)
			tc.mutate(&in)
			_, err := f.service.Grant(context.Background(), in)
			if !errors.Is(err, tc.want) {
				t.Errorf("Grant = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestExchangeHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	token, err := f.service.Exchange(ctx, f.clientID, f.secret, code)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !strings.HasPrefix(token.Token, "dvt_") {
		t.Errorf("bearer %q missing dvt_ prefix", token.Token)
	}
	if token.Status != models.TokenActive {
		t.Errorf("status = %s, want active", token.Status)
	}
	if got := token.RequestedData; len(got) != 2 || got[0] != "fullname" || got[1] != "bvn" {
		t.Errorf("scope = %v, want the consented fields verbatim", got)
	}
	wantExpiry := time.Now().AddDate(0, 0, 30)
	if d := token.ExpiresAt.Sub(wantExpiry); d < -time.Minute || d > time.Minute {
		t.Errorf("expiry %v not thirty days out", token.ExpiresAt)
	}

	req, err := f.store.GetAuthorizationRequestByCode(ctx, code)
	if err != nil {
		t.Fatalf("GetAuthorizationRequestByCode: %v", err)
	}
	if req.Status != models.RequestApproved {
		t.Errorf("request status = %s, want approved", req.Status)
	}

	logs, err := f.store.ListAccessLogs(ctx, f.user.UserID, 10)
	if err != nil {
		t.Fatalf("ListAccessLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != models.ActionRequestApproved {
		t.Errorf("audit trail = %+v, want one request_approved entry", logs)
	}
}

func TestExchangeFreezesScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	token, err := f.service.Exchange(ctx, f.clientID, f.secret, code)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	// Rewrite the originating request's scope in place after issuance.
	// The token carries its own copy, so the grant is frozen at consent
	// time no matter what happens to the request row.
	req, err := f.store.GetAuthorizationRequestByCode(ctx, code)
	if err != nil {
		t.Fatalf("GetAuthorizationRequestByCode: %v", err)
	}
	for i := range req.RequestedData {
		req.RequestedData[i] = "address"
	}

	got, err := f.store.GetAccessToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if len(got.RequestedData) != 2 || got.RequestedData[0] != "fullname" || got.RequestedData[1] != "bvn" {
		t.Errorf("token scope = %v, want [fullname bvn] frozen at issuance", got.RequestedData)
	}
}

func TestExchangeRequiresSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	if _, err := f.service.Exchange(ctx, f.clientID, "", code); !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Errorf("missing secret = %v, want authentication failure", err)
	}
	if _, err := f.service.Exchange(ctx, f.clientID, "dv_sk_wrong", code); !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Errorf("wrong secret = %v, want authentication failure", err)
	}
	// Failed authentication must not burn the code.
	if _, err := f.service.Exchange(ctx, f.clientID, f.secret, code); err != nil {
		t.Errorf("exchange after failed attempts: %v", err)
	}
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	if _, err := f.service.Exchange(ctx, f.clientID, f.secret, code); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := f.service.Exchange(ctx, f.clientID, f.secret, code)
	if !errors.Is(err, protocolerr.AlreadyConsumed("")) {
		t.Fatalf("second exchange = %v, want already consumed", err)
	}
}

func TestExchangeUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Exchange(context.Background(), f.clientID, f.secret, strings.Repeat("0", 64))
	if !errors.Is(err, protocolerr.NotFound("")) {
		t.Fatalf("unknown code = %v, want not found", err)
	}
}

func TestExchangeWrongCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	other := &models.Company{
		CompanyID:   "comp-2",
		CompanyName: "Other Corp",
		Email:       "eng@other.example",
		Status:      models.CompanyActive,
	}
	if err := f.store.CreateCompany(ctx, other); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	otherClient, otherSecret, err := f.keys.Create(ctx, other.CompanyID, "prod")
	if err != nil {
		t.Fatalf("Create api key: %v", err)
	}

	// Another company presenting a stolen code must not learn whether it
	// exists, and must not consume it.
	if _, err := f.service.Exchange(ctx, otherClient, otherSecret, code); !errors.Is(err, protocolerr.NotFound("")) {
		t.Fatalf("cross-company exchange = %v, want not found", err)
	}
	if _, err := f.service.Exchange(ctx, f.clientID, f.secret, code); err != nil {
		t.Errorf("rightful exchange after theft attempt: %v", err)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &models.AuthorizationRequest{
		RequestID:     "req-stale",
		CompanyID:     f.company.CompanyID,
		CompanyName:   f.company.CompanyName,
		UserID:        f.user.UserID,
		RequestedData: []string{"fullname"},
		Duration:      30,
		RedirectURI:   registeredRedirect,
		Status:        models.RequestPending,
		AccessCode:    strings.Repeat("a", 64),
		Expiry:        time.Now().Add(-time.Minute),
		CreatedAt:     time.Now().Add(-10 * time.Minute),
	}
	if err := f.store.CreateAuthorizationRequest(ctx, req); err != nil {
		t.Fatalf("CreateAuthorizationRequest: %v", err)
	}

	_, err := f.service.Exchange(ctx, f.clientID, f.secret, req.AccessCode)
	if !errors.Is(err, protocolerr.Expired("")) {
		t.Fatalf("expired exchange = %v, want expired", err)
	}
	// The stale row is removed, not left approved.
	if _, err := f.store.GetAuthorizationRequestByCode(ctx, req.AccessCode); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stale request still present: %v", err)
	}
}

func TestExchangeConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.grant(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Exchange(ctx, f.clientID, f.secret, code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, consumed int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, protocolerr.AlreadyConsumed("")):
			consumed++
		default:
			t.Errorf("unexpected exchange error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if consumed != workers-1 {
		t.Errorf("already-consumed losers = %d, want %d", consumed, workers-1)
	}
}

func TestRecordDenial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.service.RecordDenial(ctx, f.user.UserID, f.clientID); err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}
	logs, err := f.store.ListAccessLogs(ctx, f.user.UserID, 10)
	if err != nil {
		t.Fatalf("ListAccessLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != models.ActionRequestDenied {
		t.Errorf("audit trail = %+v, want one request_denied entry", logs)
	}
}
