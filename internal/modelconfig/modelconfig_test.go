package modelconfig_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/modelconfig"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/store/memory"
	"goyais.org/hub/internal/vault"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", vault.KeySize)))

func newService(t *testing.T) (*modelconfig.Service, *memory.Store, *vault.Vault) {
	t.Helper()
	v, err := vault.New(testKey)
	require.NoError(t, err)
	store := memory.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return modelconfig.NewService(store, v, modelconfig.WithClock(func() time.Time { return now })), store, v
}

func ptr[T any](v T) *T { return &v }

func codeOf(t *testing.T, err error) *apierr.Error {
	t.Helper()
	var e *apierr.Error
	require.True(t, errors.As(err, &e), "expected *apierr.Error, got %v", err)
	return e
}

func TestCreateSealsKey(t *testing.T) {
	svc, store, v := newService(t)
	ctx := context.Background()

	cfg, err := svc.Create(ctx, "ws_1", "usr_1", modelconfig.CreateInput{
		Provider: "openai", Model: " gpt-4.1 ", APIKey: "sk-first", MaxTokens: ptr(2048),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.ID, "mc_"))
	assert.True(t, strings.HasPrefix(cfg.SecretRef, "secret_"))
	assert.Equal(t, "gpt-4.1", cfg.Model)
	assert.Equal(t, 0.0, cfg.Temperature)

	sec, err := store.FindSecret(ctx, "ws_1", cfg.SecretRef)
	require.NoError(t, err)
	assert.NotContains(t, sec.Envelope, "sk-first")
	assert.Equal(t, secrets.KindModelAPIKey, sec.Kind)

	plain, err := v.Open(sec.Envelope)
	require.NoError(t, err)
	assert.Equal(t, "sk-first", plain)

	body, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "sk-first")
	assert.NotContains(t, string(body), "api_key")
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Create(context.Background(), "ws_1", "usr_1", modelconfig.CreateInput{
		Provider: "mystery", Model: "", MaxTokens: ptr(0),
	})
	e := codeOf(t, err)
	assert.Equal(t, apierr.CodeValidation, e.Code)
	assert.Equal(t, "model_config_payload", e.Cause)
	assert.Len(t, e.Details["issues"], 4)
}

func TestUpdateRotatesSecret(t *testing.T) {
	svc, store, v := newService(t)
	ctx := context.Background()

	cfg, err := svc.Create(ctx, "ws_1", "usr_1", modelconfig.CreateInput{Provider: "openai", Model: "m", APIKey: "sk-old"})
	require.NoError(t, err)
	oldRef := cfg.SecretRef

	updated, err := svc.Update(ctx, "ws_1", cfg.ID, "usr_1", modelconfig.UpdateInput{APIKey: ptr("sk-new")})
	require.NoError(t, err)
	assert.NotEqual(t, oldRef, updated.SecretRef)

	_, err = store.FindSecret(ctx, "ws_1", oldRef)
	assert.ErrorIs(t, err, secrets.ErrNotFound)

	plain, err := secrets.NewResolver(store, v).Resolve(ctx, "ws_1", updated.SecretRef)
	require.NoError(t, err)
	assert.Equal(t, "sk-new", plain)
}

func TestUpdatePartial(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	cfg, err := svc.Create(ctx, "ws_1", "usr_1", modelconfig.CreateInput{
		Provider: "openai", Model: "m", APIKey: "k", BaseURL: ptr("https://api.example.com"), MaxTokens: ptr(10),
	})
	require.NoError(t, err)

	var in modelconfig.UpdateInput
	require.NoError(t, json.Unmarshal([]byte(`{"base_url":null,"temperature":0.5}`), &in))
	updated, err := svc.Update(ctx, "ws_1", cfg.ID, "usr_1", in)
	require.NoError(t, err)
	assert.Nil(t, updated.BaseURL)
	assert.Equal(t, 0.5, updated.Temperature)
	require.NotNil(t, updated.MaxTokens)
	assert.Equal(t, 10, *updated.MaxTokens)
	assert.Equal(t, cfg.SecretRef, updated.SecretRef)

	_, err = svc.Update(ctx, "ws_1", cfg.ID, "usr_1", modelconfig.UpdateInput{})
	assert.Equal(t, apierr.CodeValidation, codeOf(t, err).Code)

	_, err = svc.Update(ctx, "ws_other", cfg.ID, "usr_1", modelconfig.UpdateInput{Model: ptr("x")})
	e := codeOf(t, err)
	assert.Equal(t, apierr.CodeNotFound, e.Code)
	assert.Equal(t, "model_config_lookup", e.Cause)
}

func TestListAndDelete(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	list, err := svc.List(ctx, "ws_1")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	cfg, err := svc.Create(ctx, "ws_1", "usr_1", modelconfig.CreateInput{Provider: "qwen", Model: "m", APIKey: "k"})
	require.NoError(t, err)
	list, err = svc.List(ctx, "ws_1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, "ws_1", cfg.ID))
	_, err = store.FindSecret(ctx, "ws_1", cfg.SecretRef)
	assert.ErrorIs(t, err, secrets.ErrNotFound)

	err = svc.Delete(ctx, "ws_1", cfg.ID)
	assert.Equal(t, apierr.CodeNotFound, codeOf(t, err).Code)
}

func TestResolverErrors(t *testing.T) {
	_, store, v := newService(t)
	r := secrets.NewResolver(store, v)

	_, err := r.Resolve(context.Background(), "", "secret_x")
	e := codeOf(t, err)
	assert.Equal(t, apierr.CodeValidation, e.Code)
	assert.Equal(t, "internal_secret_payload", e.Cause)

	_, err = r.Resolve(context.Background(), "ws_1", "secret_missing")
	e = codeOf(t, err)
	assert.Equal(t, apierr.CodeNotFound, e.Code)
	assert.Equal(t, "internal_secret_lookup", e.Cause)
}
