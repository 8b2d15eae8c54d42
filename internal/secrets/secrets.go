// Package secrets holds encrypted workspace secrets and is the single place
// where a secret envelope is turned back into plaintext.
package secrets

import (
	"context"
	"errors"
	"strings"
	"time"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/ids"
	"goyais.org/hub/internal/vault"
)

// ErrNotFound is returned by Store when no secret matches.
var ErrNotFound = errors.New("secrets: not found")

// KindModelAPIKey marks provider API keys referenced by model configs.
const KindModelAPIKey = "model_api_key"

// Secret is an encrypted value owned by a workspace.
type Secret struct {
	Ref         string
	WorkspaceID string
	Kind        string
	Envelope    string
	CreatedBy   string
	CreatedAt   time.Time
}

// NewRef returns a fresh secret reference.
func NewRef() string { return ids.Prefixed("secret") }

// Store looks secrets up by workspace and reference.
type Store interface {
	FindSecret(ctx context.Context, workspaceID, ref string) (Secret, error)
}

// Seal encrypts plaintext into a new Secret row (not yet persisted).
func Seal(v *vault.Vault, workspaceID, kind, plaintext, createdBy string, now time.Time) (Secret, error) {
	env, err := v.Seal(plaintext)
	if err != nil {
		return Secret{}, err
	}
	return Secret{
		Ref:         NewRef(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Envelope:    env,
		CreatedBy:   createdBy,
		CreatedAt:   now.UTC(),
	}, nil
}

// Resolver decrypts secrets for trusted internal callers.
type Resolver struct {
	store Store
	vault *vault.Vault
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, v *vault.Vault) *Resolver {
	return &Resolver{store: store, vault: v}
}

// Resolve returns the plaintext of ref in workspaceID.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, ref string) (string, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	ref = strings.TrimSpace(ref)
	if workspaceID == "" || ref == "" {
		return "", apierr.Validation("Invalid secret resolve payload.", "internal_secret_payload",
			map[string]any{"issues": []string{"workspace_id and secret_ref are required"}})
	}
	s, err := r.store.FindSecret(ctx, workspaceID, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", apierr.New(apierr.CodeNotFound, "Secret not found.", apierr.WithCause("internal_secret_lookup"))
		}
		return "", apierr.Internal("internal_secret_lookup", err)
	}
	return r.vault.Open(s.Envelope)
}
