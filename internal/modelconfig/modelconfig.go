// Package modelconfig manages per-workspace model provider settings. API keys
// are sealed into the secrets table and referenced by secret_ref; plaintext is
// never stored or returned.
package modelconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/ids"
	"goyais.org/hub/internal/secrets"
	"goyais.org/hub/internal/vault"
)

// ErrNotFound is returned by Store when no config matches.
var ErrNotFound = errors.New("modelconfig: not found")

// Providers accepted by Create and Update.
var Providers = []string{
	"deepseek",
	"minimax_cn",
	"minimax_intl",
	"zhipu",
	"qwen",
	"doubao",
	"openai",
	"anthropic",
	"google",
	"custom",
}

// ModelConfig is the stored, plaintext-free configuration.
type ModelConfig struct {
	ID          string    `json:"model_config_id"`
	WorkspaceID string    `json:"workspace_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	BaseURL     *string   `json:"base_url"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens"`
	SecretRef   string    `json:"secret_ref"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists configs together with their secrets.
type Store interface {
	ListModelConfigs(ctx context.Context, workspaceID string) ([]ModelConfig, error)
	GetModelConfig(ctx context.Context, workspaceID, id string) (ModelConfig, error)
	// CreateModelConfig inserts secret and cfg in one transaction.
	CreateModelConfig(ctx context.Context, cfg ModelConfig, secret secrets.Secret) error
	// UpdateModelConfig writes cfg. When rotated is non-nil it is inserted,
	// cfg is pointed at it and the previous secret row is deleted, all in one
	// transaction.
	UpdateModelConfig(ctx context.Context, cfg ModelConfig, rotated *secrets.Secret) error
	// DeleteModelConfig removes the config and its secret.
	DeleteModelConfig(ctx context.Context, workspaceID, id string) error
}

// Nullable distinguishes an absent JSON field from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON is only invoked for present keys.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// CreateInput is the create payload.
type CreateInput struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	BaseURL     *string  `json:"base_url"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	APIKey      string   `json:"api_key"`
}

// UpdateInput is a partial update. At least one field must be present.
type UpdateInput struct {
	Provider    *string          `json:"provider"`
	Model       *string          `json:"model"`
	BaseURL     Nullable[string] `json:"base_url"`
	Temperature *float64         `json:"temperature"`
	MaxTokens   Nullable[int]    `json:"max_tokens"`
	APIKey      *string          `json:"api_key"`
}

func (in UpdateInput) empty() bool {
	return in.Provider == nil && in.Model == nil && !in.BaseURL.Set &&
		in.Temperature == nil && !in.MaxTokens.Set && in.APIKey == nil
}

// Service implements model config CRUD with secret rotation.
type Service struct {
	store Store
	vault *vault.Vault
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, v *vault.Vault, opts ...Option) *Service {
	s := &Service{store: store, vault: v, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the workspace's configs.
func (s *Service) List(ctx context.Context, workspaceID string) ([]ModelConfig, error) {
	list, err := s.store.ListModelConfigs(ctx, workspaceID)
	if err != nil {
		return nil, apierr.Internal("model_config_list", err)
	}
	if list == nil {
		list = []ModelConfig{}
	}
	return list, nil
}

// Get returns one config.
func (s *Service) Get(ctx context.Context, workspaceID, id string) (ModelConfig, error) {
	cfg, err := s.store.GetModelConfig(ctx, workspaceID, id)
	if err != nil {
		return ModelConfig{}, mapStoreErr(err, "model_config_lookup")
	}
	return cfg, nil
}

// Create seals the API key and stores a new config.
func (s *Service) Create(ctx context.Context, workspaceID, userID string, in CreateInput) (ModelConfig, error) {
	var issues []string
	if !validProvider(in.Provider) {
		issues = append(issues, "provider is not supported")
	}
	if strings.TrimSpace(in.Model) == "" {
		issues = append(issues, "model is required")
	}
	if in.BaseURL != nil && strings.TrimSpace(*in.BaseURL) == "" {
		issues = append(issues, "base_url must not be empty")
	}
	if in.Temperature != nil && (math.IsNaN(*in.Temperature) || math.IsInf(*in.Temperature, 0)) {
		issues = append(issues, "temperature must be finite")
	}
	if in.MaxTokens != nil && *in.MaxTokens <= 0 {
		issues = append(issues, "max_tokens must be positive")
	}
	if in.APIKey == "" {
		issues = append(issues, "api_key is required")
	}
	if len(issues) > 0 {
		return ModelConfig{}, invalidPayload(issues)
	}

	now := s.now().UTC()
	secret, err := secrets.Seal(s.vault, workspaceID, secrets.KindModelAPIKey, in.APIKey, userID, now)
	if err != nil {
		return ModelConfig{}, err
	}
	cfg := ModelConfig{
		ID:          ids.Prefixed("mc"),
		WorkspaceID: workspaceID,
		Provider:    in.Provider,
		Model:       strings.TrimSpace(in.Model),
		BaseURL:     trimPtr(in.BaseURL),
		MaxTokens:   in.MaxTokens,
		SecretRef:   secret.Ref,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Temperature != nil {
		cfg.Temperature = *in.Temperature
	}
	if err := s.store.CreateModelConfig(ctx, cfg, secret); err != nil {
		return ModelConfig{}, apierr.Internal("model_config_create", err)
	}
	return cfg, nil
}

// Update applies a partial update. A new api_key rotates the secret: the
// config gets a fresh secret_ref and the old one is deleted.
func (s *Service) Update(ctx context.Context, workspaceID, id, userID string, in UpdateInput) (ModelConfig, error) {
	if in.empty() {
		return ModelConfig{}, invalidPayload([]string{"at least one field must be provided"})
	}
	var issues []string
	if in.Provider != nil && !validProvider(*in.Provider) {
		issues = append(issues, "provider is not supported")
	}
	if in.Model != nil && strings.TrimSpace(*in.Model) == "" {
		issues = append(issues, "model must not be empty")
	}
	if in.BaseURL.Value != nil && strings.TrimSpace(*in.BaseURL.Value) == "" {
		issues = append(issues, "base_url must not be empty")
	}
	if in.Temperature != nil && (math.IsNaN(*in.Temperature) || math.IsInf(*in.Temperature, 0)) {
		issues = append(issues, "temperature must be finite")
	}
	if in.MaxTokens.Value != nil && *in.MaxTokens.Value <= 0 {
		issues = append(issues, "max_tokens must be positive")
	}
	if in.APIKey != nil && *in.APIKey == "" {
		issues = append(issues, "api_key must not be empty")
	}
	if len(issues) > 0 {
		return ModelConfig{}, invalidPayload(issues)
	}

	cfg, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return ModelConfig{}, err
	}
	if in.Provider != nil {
		cfg.Provider = *in.Provider
	}
	if in.Model != nil {
		cfg.Model = strings.TrimSpace(*in.Model)
	}
	if in.BaseURL.Set {
		cfg.BaseURL = trimPtr(in.BaseURL.Value)
	}
	if in.Temperature != nil {
		cfg.Temperature = *in.Temperature
	}
	if in.MaxTokens.Set {
		cfg.MaxTokens = in.MaxTokens.Value
	}
	now := s.now().UTC()
	cfg.UpdatedAt = now

	var rotated *secrets.Secret
	if in.APIKey != nil {
		secret, err := secrets.Seal(s.vault, workspaceID, secrets.KindModelAPIKey, *in.APIKey, userID, now)
		if err != nil {
			return ModelConfig{}, err
		}
		rotated = &secret
		cfg.SecretRef = secret.Ref
	}
	if err := s.store.UpdateModelConfig(ctx, cfg, rotated); err != nil {
		return ModelConfig{}, mapStoreErr(err, "model_config_update")
	}
	if rotated == nil {
		// The store keeps its own secret_ref; report what it holds.
		return s.Get(ctx, workspaceID, id)
	}
	return cfg, nil
}

// Delete removes a config and its secret.
func (s *Service) Delete(ctx context.Context, workspaceID, id string) error {
	if err := s.store.DeleteModelConfig(ctx, workspaceID, id); err != nil {
		return mapStoreErr(err, "model_config_delete")
	}
	return nil
}

func validProvider(p string) bool {
	for _, v := range Providers {
		if v == p {
			return true
		}
	}
	return false
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func invalidPayload(issues []string) error {
	return apierr.Validation("Invalid model config payload.", "model_config_payload", map[string]any{"issues": issues})
}

func mapStoreErr(err error, cause string) error {
	if errors.Is(err, ErrNotFound) {
		return apierr.New(apierr.CodeNotFound, "Model config not found.", apierr.WithCause("model_config_lookup"))
	}
	return apierr.Internal(cause, err)
}
