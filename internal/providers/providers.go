// Package providers validates stored model provider credentials against the
// provider's live API.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go/option"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
)

// DefaultAzureAPIVersion is used when no OPENAI_API_VERSION is configured.
const DefaultAzureAPIVersion = "2024-06-01"

// azurePromptMessage is the fixed prompt sent to Azure deployments.
const azurePromptMessage = "Hello, world!"

// NotImplementedError reports a provider with no validation handler.
type NotImplementedError struct {
	Provider models.Provider
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("Verification of API key for provider %s is not implemented", e.Provider)
}

// IsNotImplemented reports whether err is a *NotImplementedError.
func IsNotImplemented(err error) bool {
	var target *NotImplementedError
	return errors.As(err, &target)
}

// Validator checks one provider's credential.
type Validator interface {
	ValidateAPIKey(ctx context.Context, conn *models.ModelProviderConnection) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, conn *models.ModelProviderConnection) error

func (f ValidatorFunc) ValidateAPIKey(ctx context.Context, conn *models.ModelProviderConnection) error {
	return f(ctx, conn)
}

// Options configure the built-in validators.
type Options struct {
	// AzureAPIVersion is the process-wide OPENAI_API_VERSION.
	AzureAPIVersion string
	// OpenAIBaseURL overrides https://api.openai.com/v1.
	OpenAIBaseURL string
	// HTTPClient is shared by all provider clients; nil uses the client default.
	HTTPClient *http.Client
}

// Registry dispatches validation to the handler registered for a provider.
type Registry struct {
	mu         sync.RWMutex
	validators map[models.Provider]Validator
}

// NewRegistry returns a registry with the OpenAI and Azure OpenAI handlers.
func NewRegistry(opts Options) *Registry {
	r := &Registry{validators: make(map[models.Provider]Validator)}
	r.Register(models.ProviderOpenAI, NewOpenAIValidator(opts))
	r.Register(models.ProviderAzureOpenAI, NewAzureOpenAIValidator(opts))
	return r
}

// Register installs v for provider p, replacing any previous handler.
func (r *Registry) Register(p models.Provider, v Validator) {
	if r == nil || v == nil {
		return
	}
	r.mu.Lock()
	r.validators[p] = v
	r.mu.Unlock()
}

// ValidateAPIKey runs the handler for conn.Provider. Providers without a
// handler fail with *NotImplementedError before any network I/O.
func (r *Registry) ValidateAPIKey(ctx context.Context, conn *models.ModelProviderConnection) error {
	if conn == nil {
		return errors.New("validate api key: nil connection")
	}
	var v Validator
	if r != nil {
		r.mu.RLock()
		v = r.validators[conn.Provider]
		r.mu.RUnlock()
	}
	if v == nil {
		return &NotImplementedError{Provider: conn.Provider}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return v.ValidateAPIKey(ctx, conn)
}

// commonOptions are applied to every provider client. Retries are disabled so a
// validation is exactly one request.
func commonOptions(opts Options) []option.RequestOption {
	out := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.HTTPClient != nil {
		out = append(out, option.WithHTTPClient(opts.HTTPClient))
	}
	return out
}

func apiVersion(opts Options) string {
	if v := strings.TrimSpace(opts.AzureAPIVersion); v != "" {
		return v
	}
	return DefaultAzureAPIVersion
}
