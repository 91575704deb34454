package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/org/datavault/internal/audit"
	"github.com/org/datavault/internal/blob"
	"github.com/org/datavault/internal/crypto"
	"github.com/org/datavault/internal/notify"
	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
)

const testMasterKey = "unit-test-master-key-0123456789abcdef"

type fixture struct {
	store   *storage.MemoryStore
	env     *crypto.Envelope
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env, err := crypto.NewEnvelope(testMasterKey)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	blobs, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := storage.NewMemoryStore()
	notifier := notify.NewDispatcher(notify.Config{})
	t.Cleanup(notifier.Close)
	svc := NewService(store, env, blobs, audit.NewLogger(store), notifier)
	return &fixture{store: store, env: env, service: svc}
}

func (f *fixture) seedUser(t *testing.T) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{
		UserID:   "user-1",
		Email:    "ada@example.com",
		Fullname: "Ada Obi",
		Phone:    "+2348012345678",
	}
	if err := f.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := f.store.CreateVaultRecord(ctx, &models.VaultRecord{UserID: user.UserID}); err != nil {
		t.Fatalf("CreateVaultRecord: %v", err)
	}
	return user
}

func (f *fixture) seedCompany(t *testing.T) *models.Company {
	t.Helper()
	company := &models.Company{
		CompanyID:   "comp-1",
		CompanyName: "Acme Lending",
		Email:       "eng@acme.example",
		Status:      models.CompanyActive,
	}
	if err := f.store.CreateCompany(context.Background(), company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	return company
}

func (f *fixture) seedToken(t *testing.T, userID, companyID string, scope []string) *models.AccessToken {
	t.Helper()
	token := &models.AccessToken{
		TokenID:       "tok-" + strings.Join(scope, "-"),
		Token:         "dvt_test_" + strings.Join(scope, "_"),
		UserID:        userID,
		CompanyID:     companyID,
		CompanyName:   "Acme Lending",
		RequestedData: scope,
		GrantedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		Status:        models.TokenActive,
	}
	if err := f.store.CreateAccessToken(context.Background(), token); err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	return token
}

func TestReadReturnsOnlyScopedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)

	if err := f.service.SavePersonalData(ctx, user.UserID, map[string]string{
		"bvn": "12345678901",
		"nin": "98765432109",
		"dob": "1990-04-02",
	}); err != nil {
		t.Fatalf("SavePersonalData: %v", err)
	}

	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname", "bvn"})
	res, err := f.service.Read(ctx, token.Token, company.CompanyID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := res.Data["fullname"]; got != user.Fullname {
		t.Errorf("fullname = %v, want %q", got, user.Fullname)
	}
	if got := res.Data["bvn"]; got != "12345678901" {
		t.Errorf("bvn = %v, want plaintext round trip", got)
	}
	for _, forbidden := range []string{"nin", "dob", "email", "phone"} {
		if _, ok := res.Data[forbidden]; ok {
			t.Errorf("unscoped field %q leaked into read result", forbidden)
		}
	}
}

func TestReadDocumentPassthrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)

	original := []byte("%PDF-1.4 fake passport scan")
	if err := f.service.UploadDocument(ctx, user.UserID, "passport", "scan.pdf", original); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"passport"})
	res, err := f.service.Read(ctx, token.Token, company.CompanyID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	encoded, ok := res.Data["passport"].(string)
	if !ok {
		t.Fatalf("passport field missing or not a string: %v", res.Data["passport"])
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	// The reader hands out the stored envelope untouched; only a holder
	// of the master key can open it.
	plain, err := f.env.DecryptBuffer(sealed)
	if err != nil {
		t.Fatalf("DecryptBuffer: %v", err)
	}
	if string(plain) != string(original) {
		t.Errorf("document round trip mismatch")
	}
}

func TestReadSkipsAbsentFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)

	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname", "bvn", "passport"})
	res, err := f.service.Read(ctx, token.Token, company.CompanyID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := res.Data["bvn"]; ok {
		t.Error("bvn was never written but appeared in result")
	}
	if _, ok := res.Data["passport"]; ok {
		t.Error("passport was never uploaded but appeared in result")
	}
	if len(res.FieldErrors) != 0 {
		t.Errorf("absent fields should be omissions, not errors: %v", res.FieldErrors)
	}
}

func TestReadIsolatesCorruptField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)

	if err := f.service.SavePersonalData(ctx, user.UserID, map[string]string{
		"bvn": "12345678901",
		"dob": "1990-04-02",
	}); err != nil {
		t.Fatalf("SavePersonalData: %v", err)
	}
	// Overwrite one ciphertext with garbage directly in storage.
	if err := f.store.SetPersonalData(ctx, user.UserID, map[string]string{
		"dob": "v1:not-valid-ciphertext",
	}); err != nil {
		t.Fatalf("SetPersonalData: %v", err)
	}

	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"bvn", "dob"})
	res, err := f.service.Read(ctx, token.Token, company.CompanyID)
	if err != nil {
		t.Fatalf("Read should survive one corrupt field: %v", err)
	}
	if got := res.Data["bvn"]; got != "12345678901" {
		t.Errorf("healthy field lost alongside corrupt one: %v", got)
	}
	if _, ok := res.Data["dob"]; ok {
		t.Error("corrupt field should not carry a value")
	}
	if res.FieldErrors["dob"] != "decryption_failed" {
		t.Errorf("FieldErrors[dob] = %q, want decryption_failed", res.FieldErrors["dob"])
	}
}

func TestReadRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)

	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})
	expired := *token
	expired.TokenID = "tok-expired"
	expired.Token = "dvt_test_expired"
	expired.GrantedAt = time.Now().Add(-48 * time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := f.store.CreateAccessToken(ctx, &expired); err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	// Status still says active; only the clock decides.
	_, err := f.service.Read(ctx, expired.Token, company.CompanyID)
	if !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Fatalf("expired token read = %v, want authentication failure", err)
	}
}

func TestReadRejectsWrongCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)
	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})

	_, err := f.service.Read(ctx, token.Token, "some-other-company")
	if !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Fatalf("cross-company read = %v, want authentication failure", err)
	}
}

func TestRevocationIsImmediateAndFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)
	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})

	if err := f.service.Revoke(ctx, token.TokenID, user.UserID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.service.Read(ctx, token.Token, company.CompanyID); !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Fatalf("read after revoke = %v, want authentication failure", err)
	}
	// A second revocation is not idempotent success.
	if err := f.service.Revoke(ctx, token.TokenID, user.UserID); !errors.Is(err, protocolerr.ValidationFailed("")) {
		t.Fatalf("double revoke = %v, want validation failure", err)
	}
}

func TestRevokeRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)
	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})

	if err := f.service.Revoke(ctx, token.TokenID, "intruder"); !errors.Is(err, protocolerr.NotFound("")) {
		t.Fatalf("foreign revoke = %v, want not found", err)
	}
	got, err := f.store.GetAccessTokenByID(ctx, token.TokenID, user.UserID)
	if err != nil {
		t.Fatalf("GetAccessTokenByID: %v", err)
	}
	if got.Status != models.TokenActive {
		t.Errorf("token status = %s after foreign revoke, want active", got.Status)
	}
}

func TestReadRecordsAuditAndCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)
	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})

	if _, err := f.service.Read(ctx, token.Token, company.CompanyID); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := f.service.Read(ctx, token.Token, company.CompanyID); err != nil {
		t.Fatalf("Read: %v", err)
	}

	got, err := f.store.GetAccessTokenByID(ctx, token.TokenID, user.UserID)
	if err != nil {
		t.Fatalf("GetAccessTokenByID: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", got.AccessCount)
	}
	if got.LastAccessedAt == nil {
		t.Error("last accessed timestamp not stamped")
	}

	logs, err := f.store.ListAccessLogs(ctx, user.UserID, 10)
	if err != nil {
		t.Fatalf("ListAccessLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(logs))
	}
	if logs[0].Action != models.ActionRead {
		t.Errorf("audit action = %s, want read", logs[0].Action)
	}
}

func TestSavePersonalDataRejectsUnknownField(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t)

	err := f.service.SavePersonalData(context.Background(), user.UserID, map[string]string{"ssn": "x"})
	if !errors.Is(err, protocolerr.ValidationFailed("")) {
		t.Fatalf("unknown field save = %v, want validation failure", err)
	}
}

func TestUploadDocumentRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t)

	err := f.service.UploadDocument(context.Background(), user.UserID, "tax_return", "f.pdf", []byte("x"))
	if !errors.Is(err, protocolerr.ValidationFailed("")) {
		t.Fatalf("unknown document upload = %v, want validation failure", err)
	}
}

func TestOverviewMasksSensitiveNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)

	if err := f.service.SavePersonalData(ctx, user.UserID, map[string]string{
		"bvn":     "12345678901",
		"address": "12 Marina Road, Lagos",
	}); err != nil {
		t.Fatalf("SavePersonalData: %v", err)
	}
	if err := f.service.UploadDocument(ctx, user.UserID, "passport", "scan.pdf", []byte("doc")); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	ov, err := f.service.GetOverview(ctx, user.UserID)
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if ov.PersonalData["bvn"] != "***8901" {
		t.Errorf("bvn = %q, want masked to last four", ov.PersonalData["bvn"])
	}
	if ov.PersonalData["address"] != "12 Marina Road, Lagos" {
		t.Errorf("address = %q, want plaintext", ov.PersonalData["address"])
	}
	if !ov.Documents["passport"] {
		t.Error("uploaded passport not reported present")
	}
	if ov.Documents["nin_front"] {
		t.Error("absent document reported present")
	}
}

func TestListActiveAccessTruncatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t)
	company := f.seedCompany(t)
	token := f.seedToken(t, user.UserID, company.CompanyID, []string{"fullname"})

	grants, err := f.service.ListActiveAccess(ctx, user.UserID)
	if err != nil {
		t.Fatalf("ListActiveAccess: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants, want 1", len(grants))
	}
	g := grants[0]
	if g.TokenPreview == token.Token {
		t.Error("full bearer secret exposed in dashboard listing")
	}
	if !strings.HasSuffix(g.TokenPreview, "...") {
		t.Errorf("token preview %q not truncated", g.TokenPreview)
	}
	if g.DaysLeft < 1 {
		t.Errorf("days left = %d, want at least 1", g.DaysLeft)
	}
}
