package providers

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
)

// processCredentialHeaders are set by the openai-go client from the environment.
var processCredentialHeaders = []string{"Authorization", "OpenAI-Organization", "OpenAI-Project"}

// AzureOpenAIValidator sends a one-message chat completion to the stored deployment.
type AzureOpenAIValidator struct {
	opts Options
}

// NewAzureOpenAIValidator constructs an AzureOpenAIValidator.
func NewAzureOpenAIValidator(opts Options) *AzureOpenAIValidator {
	return &AzureOpenAIValidator{opts: opts}
}

// ValidateAPIKey succeeds when the completion call returns without error.
// Endpoint, deployment name and key are passed through as stored; a wrong value
// surfaces as the client's error.
func (v *AzureOpenAIValidator) ValidateAPIKey(ctx context.Context, conn *models.ModelProviderConnection) error {
	deployment := conn.DeploymentNameValue()
	reqOpts := append(commonOptions(v.opts),
		azure.WithEndpoint(conn.EndpointValue(), apiVersion(v.opts)),
		azure.WithAPIKey(conn.APIKeyValue()),
	)
	// The client seeds these from OPENAI_API_KEY, OPENAI_ORG_ID and OPENAI_PROJECT_ID;
	// only the stored key may reach the stored endpoint.
	for _, header := range processCredentialHeaders {
		reqOpts = append(reqOpts, option.WithHeaderDel(header))
	}
	client := openai.NewClient(reqOpts...)
	_, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(deployment),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(azurePromptMessage),
		},
	})
	return err
}
