package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

// fakeOpenAI serves /models and answers 401 unless the bearer key matches.
func fakeOpenAI(t *testing.T, validKey string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/models") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"not found","type":"invalid_request_error"}}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+validKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"}]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

// fakeAzure accepts chat completions for one deployment and key.
func fakeAzure(t *testing.T, deployment, validKey, version string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("api-version") != version {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"unsupported api version","type":"invalid_request_error"}}`))
			return
		}
		if r.Header.Get("Api-Key") != validKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Access denied due to invalid subscription key","type":"invalid_request_error","code":"401"}}`))
			return
		}
		if r.URL.Path != "/openai/deployments/"+deployment+"/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"The API deployment for this resource does not exist","type":"invalid_request_error","code":"DeploymentNotFound"}}`))
			return
		}
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&body); errDecode != nil || len(body.Messages) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad body","type":"invalid_request_error"}}`))
			return
		}
		if body.Messages[0].Role != "user" || body.Messages[0].Content != azurePromptMessage {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"unexpected message","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *openai.Error
	require.True(t, errors.As(err, &apiErr), "expected *openai.Error, got %T: %v", err, err)
	require.Equal(t, status, apiErr.StatusCode)
}

func TestOpenAIValidator_ValidKey(t *testing.T) {
	var calls atomic.Int64
	server := fakeOpenAI(t, "sk-good", &calls)
	registry := NewRegistry(Options{OpenAIBaseURL: server.URL, HTTPClient: server.Client()})

	conn := &models.ModelProviderConnection{Provider: models.ProviderOpenAI, APIKey: strPtr("sk-good")}
	require.NoError(t, conn.ValidateAPIKey(context.Background(), registry))
	require.Equal(t, int64(1), calls.Load())
}

func TestOpenAIValidator_InvalidKeyReturnsClientError(t *testing.T) {
	var calls atomic.Int64
	server := fakeOpenAI(t, "sk-good", &calls)
	registry := NewRegistry(Options{OpenAIBaseURL: server.URL, HTTPClient: server.Client()})

	for _, key := range []*string{strPtr("sk-revoked"), nil} {
		conn := &models.ModelProviderConnection{Provider: models.ProviderOpenAI, APIKey: key}
		err := registry.ValidateAPIKey(context.Background(), conn)
		require.Error(t, err)
		requireStatus(t, err, http.StatusUnauthorized)
	}
	require.Equal(t, int64(2), calls.Load(), "retries must be disabled")
}

func TestAzureOpenAIValidator_AllFieldsCorrect(t *testing.T) {
	var calls atomic.Int64
	server := fakeAzure(t, "gpt4o-prod", "azure-key", "2024-10-21", &calls)
	registry := NewRegistry(Options{AzureAPIVersion: "2024-10-21", HTTPClient: server.Client()})

	conn := &models.ModelProviderConnection{
		Provider:       models.ProviderAzureOpenAI,
		APIKey:         strPtr("azure-key"),
		DeploymentName: strPtr("gpt4o-prod"),
		Endpoint:       strPtr(server.URL),
	}
	require.NoError(t, registry.ValidateAPIKey(context.Background(), conn))
	require.Equal(t, int64(1), calls.Load())
}

func TestAzureOpenAIValidator_EachWrongFieldIsAClientError(t *testing.T) {
	var calls atomic.Int64
	server := fakeAzure(t, "gpt4o-prod", "azure-key", DefaultAzureAPIVersion, &calls)
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	registry := NewRegistry(Options{HTTPClient: server.Client()})

	base := func() *models.ModelProviderConnection {
		return &models.ModelProviderConnection{
			Provider:       models.ProviderAzureOpenAI,
			APIKey:         strPtr("azure-key"),
			DeploymentName: strPtr("gpt4o-prod"),
			Endpoint:       strPtr(server.URL),
		}
	}

	wrongKey := base()
	wrongKey.APIKey = strPtr("nope")
	err := registry.ValidateAPIKey(context.Background(), wrongKey)
	requireStatus(t, err, http.StatusUnauthorized)

	wrongDeployment := base()
	wrongDeployment.DeploymentName = strPtr("missing")
	err = registry.ValidateAPIKey(context.Background(), wrongDeployment)
	requireStatus(t, err, http.StatusNotFound)

	wrongEndpoint := base()
	wrongEndpoint.Endpoint = strPtr(closedURL)
	err = registry.ValidateAPIKey(context.Background(), wrongEndpoint)
	require.Error(t, err)
	require.False(t, IsNotImplemented(err))

	require.Equal(t, int64(2), calls.Load())
}

func TestRegistry_UnsupportedProviderMakesNoCalls(t *testing.T) {
	var calls atomic.Int64
	server := fakeOpenAI(t, "sk-good", &calls)
	registry := NewRegistry(Options{OpenAIBaseURL: server.URL, HTTPClient: server.Client()})

	for _, provider := range []models.Provider{"Anthropic", "openai", ""} {
		conn := &models.ModelProviderConnection{Provider: provider, APIKey: strPtr("sk-good")}
		err := registry.ValidateAPIKey(context.Background(), conn)
		require.Error(t, err)
		require.True(t, IsNotImplemented(err))
		require.Equal(t, "Verification of API key for provider "+string(provider)+" is not implemented", err.Error())
	}
	require.Zero(t, calls.Load())
}

func TestRegistry_RegisterAddsVariant(t *testing.T) {
	registry := NewRegistry(Options{})
	var seen *models.ModelProviderConnection
	registry.Register("Custom", ValidatorFunc(func(_ context.Context, conn *models.ModelProviderConnection) error {
		seen = conn
		return nil
	}))

	conn := &models.ModelProviderConnection{Provider: "Custom"}
	require.NoError(t, registry.ValidateAPIKey(context.Background(), conn))
	require.Same(t, conn, seen)
}

func TestOpenAIValidator_ListModels(t *testing.T) {
	var calls atomic.Int64
	server := fakeOpenAI(t, "sk-good", &calls)
	v := NewOpenAIValidator(Options{OpenAIBaseURL: server.URL, HTTPClient: server.Client()})

	ids, err := v.ListModels(context.Background(), &models.ModelProviderConnection{Provider: models.ProviderOpenAI, APIKey: strPtr("sk-good")})
	require.NoError(t, err)
	require.Equal(t, []string{"gpt-4o"}, ids)

	_, err = v.ListModels(context.Background(), &models.ModelProviderConnection{Provider: models.ProviderOpenAI, APIKey: strPtr("sk-bad")})
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestAzureOpenAIValidator_SendsOnlyStoredCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-process-secret")
	t.Setenv("OPENAI_ORG_ID", "org-process")
	t.Setenv("OPENAI_PROJECT_ID", "proj-process")

	var seen http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`))
	}))
	t.Cleanup(server.Close)

	registry := NewRegistry(Options{HTTPClient: server.Client()})
	conn := &models.ModelProviderConnection{
		Provider:       models.ProviderAzureOpenAI,
		APIKey:         strPtr("azure-key"),
		DeploymentName: strPtr("gpt4o-prod"),
		Endpoint:       strPtr(server.URL),
	}
	require.NoError(t, registry.ValidateAPIKey(context.Background(), conn))
	require.NotNil(t, seen)
	require.Equal(t, "azure-key", seen.Get("Api-Key"))
	require.Empty(t, seen.Get("Authorization"))
	require.Empty(t, seen.Get("OpenAI-Organization"))
	require.Empty(t, seen.Get("OpenAI-Project"))
}
