package service

import (
	"context"
	"fmt"
	"strings"

	"finrecon/internal/models"
	"finrecon/pkg/config"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// VertexOracle sends the raw document inline to Gemini on Vertex AI, which
// reads PDFs and images natively.
type VertexOracle struct {
	client       *genai.Client
	defaultModel string
	logger       *zap.Logger
}

func NewVertexOracle(ctx context.Context, gcp *config.GCPConfig, cfg *config.VertexConfig, logger *zap.Logger) (*VertexOracle, error) {
	var opts []option.ClientOption
	if gcp.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcp.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, gcp.ProjectID, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexOracle{
		client:       client,
		defaultModel: cfg.Model,
		logger:       logger,
	}, nil
}

func (o *VertexOracle) Extract(ctx context.Context, content []byte, mimeType string, provider ProviderConfig) (*models.ExtractedRecord, error) {
	modelName := provider.Model
	if modelName == "" {
		modelName = o.defaultModel
	}

	model := o.client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(buildExtractionPrompt(provider.TenantNames))},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	filePart := genai.Blob{MIMEType: normalizeMimeType(mimeType), Data: content}
	resp, err := model.GenerateContent(ctx, filePart, genai.Text("Extract the document."))
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	output := responseText(resp)
	if output == "" {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	record, err := ParseExtraction(output)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Document extracted via Vertex AI",
		zap.String("model", modelName),
		zap.String("belongs_to_tenant", string(record.BelongsToTenant)),
		zap.Float64("confidence", record.Confidence),
	)
	return record, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (o *VertexOracle) Close() error {
	if o.client != nil {
		return o.client.Close()
	}
	return nil
}
