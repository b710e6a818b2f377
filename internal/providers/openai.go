package providers

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
)

// OpenAIValidator lists models with the stored key.
type OpenAIValidator struct {
	opts Options
}

// NewOpenAIValidator constructs an OpenAIValidator.
func NewOpenAIValidator(opts Options) *OpenAIValidator {
	return &OpenAIValidator{opts: opts}
}

// ValidateAPIKey succeeds when the model listing call returns without error.
func (v *OpenAIValidator) ValidateAPIKey(ctx context.Context, conn *models.ModelProviderConnection) error {
	client := v.client(conn)
	_, err := client.Models.List(ctx)
	return err
}

// ListModels returns the model IDs visible to the stored key.
func (v *OpenAIValidator) ListModels(ctx context.Context, conn *models.ModelProviderConnection) ([]string, error) {
	client := v.client(conn)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, model := range page.Data {
		ids = append(ids, model.ID)
	}
	return ids, nil
}

func (v *OpenAIValidator) client(conn *models.ModelProviderConnection) openai.Client {
	reqOpts := append(commonOptions(v.opts), option.WithAPIKey(conn.APIKeyValue()))
	if baseURL := strings.TrimSpace(v.opts.OpenAIBaseURL); baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(reqOpts...)
}
