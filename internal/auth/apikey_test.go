package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
)

func TestAPIKeyCreateAndValidate(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	clientID, secret, err := svc.Create(ctx, "comp-1", "production")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(clientID, "dv_ck_") {
		t.Errorf("clientID = %q, want dv_ck_ prefix", clientID)
	}
	if !strings.HasPrefix(secret, "dv_sk_") {
		t.Errorf("secret = %q, want dv_sk_ prefix", secret)
	}

	companyID, err := svc.Validate(ctx, clientID, secret)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if companyID != "comp-1" {
		t.Errorf("companyID = %q, want comp-1", companyID)
	}
}

func TestAPIKeyValidateRejectsBadSecret(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	clientID, _, err := svc.Create(ctx, "comp-1", "production")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.Validate(ctx, clientID, "dv_sk_wrong")
	if !errors.Is(err, protocolerr.AuthenticationFailed("")) {
		t.Errorf("Validate with wrong secret = %v, want AUTHENTICATION_FAILED", err)
	}
}

func TestAPIKeyValidateUnknownClientID(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())

	_, err := svc.Validate(context.Background(), "dv_ck_missing", "dv_sk_anything")
	if !errors.Is(err, protocolerr.NotFound("")) {
		t.Errorf("Validate unknown clientID = %v, want NOT_FOUND", err)
	}
}

func TestAPIKeyIdentityOnlyMode(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	clientID, _, err := svc.Create(ctx, "comp-1", "production")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// An empty secret resolves identity without checking the hash.
	companyID, err := svc.Validate(ctx, clientID, "")
	if err != nil {
		t.Fatalf("Validate identity-only: %v", err)
	}
	if companyID != "comp-1" {
		t.Errorf("companyID = %q, want comp-1", companyID)
	}
}

func TestAPIKeyCreateEnforcesCap(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, err := svc.Create(ctx, "comp-1", "key"); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	_, _, err := svc.Create(ctx, "comp-1", "one too many")
	if !errors.Is(err, protocolerr.LimitExceeded("")) {
		t.Errorf("sixth Create = %v, want LIMIT_EXCEEDED", err)
	}

	// The cap is per company.
	if _, _, err := svc.Create(ctx, "comp-2", "first"); err != nil {
		t.Errorf("Create for another company: %v", err)
	}
}

func TestAPIKeyListBlanksSecretHash(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "comp-1", "production"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	keys, err := svc.List(ctx, "comp-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(keys))
	}
	if keys[0].SecretHash != "" {
		t.Error("List leaked a secret hash")
	}
}

func TestAPIKeyDelete(t *testing.T) {
	svc := NewAPIKeyService(storage.NewMemoryStore())
	ctx := context.Background()

	clientID, _, err := svc.Create(ctx, "comp-1", "production")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	keys, err := svc.List(ctx, "comp-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Deletion is scoped to the owning company.
	if err := svc.Delete(ctx, "comp-2", keys[0].KeyID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete by other company = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, "comp-1", keys[0].KeyID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Validate(ctx, clientID, ""); !errors.Is(err, protocolerr.NotFound("")) {
		t.Errorf("Validate after delete = %v, want NOT_FOUND", err)
	}
}
