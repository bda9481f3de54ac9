package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"finrecon/internal/models"
	"finrecon/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	gigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	gigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"
)

var errGigaChatUnauthorized = errors.New("gigachat rejected the access token")

// Phrases GigaChat answers with when it refuses a document.
var refusalPhrases = []string{
	"не могу помочь",
	"не могу обработать",
	"не могу извлечь",
	"предоставьте содержимое",
	"cannot help",
	"cannot process",
	"please provide",
}

// GigaChatOracle extracts records with GigaChat. PDFs with a text layer go
// through the chat model as text; images and scanned PDFs are uploaded to
// the files API and read by the vision model.
type GigaChatOracle struct {
	client     *gigago.Client
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewGigaChatOracle(ctx context.Context, cfg *config.GigaChatConfig, logger *zap.Logger) (*GigaChatOracle, error) {
	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &GigaChatOracle{
		client:     client,
		config:     cfg,
		logger:     logger,
		httpClient: httpClient,
		baseURL:    gigaChatBaseURL,
		oauthURL:   gigaChatOAuthURL,
	}, nil
}

func (o *GigaChatOracle) Extract(ctx context.Context, content []byte, mimeType string, provider ProviderConfig) (*models.ExtractedRecord, error) {
	modelName := provider.Model
	if modelName == "" {
		modelName = o.config.Model
	}
	prompt := buildExtractionPrompt(provider.TenantNames)
	mimeType = normalizeMimeType(mimeType)

	var output string
	var err error
	if mimeType == "application/pdf" {
		text, textErr := extractPDFText(content, o.logger)
		if textErr != nil {
			o.logger.Warn("PDF text layer unreadable, falling back to vision", zap.Error(textErr))
		}
		if text != "" {
			output, err = o.generateFromText(ctx, modelName, prompt, text)
		} else {
			output, err = o.generateFromFile(ctx, modelName, prompt, content, mimeType)
		}
	} else {
		output, err = o.generateFromFile(ctx, modelName, prompt, content, mimeType)
	}
	if err != nil {
		return nil, err
	}

	if refused(output) {
		o.logger.Warn("GigaChat refused the document", zap.String("model", modelName), zap.String("message", output))
		return nil, fmt.Errorf("model refused the document: %s", output)
	}

	record, err := ParseExtraction(output)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Document extracted via GigaChat",
		zap.String("model", modelName),
		zap.String("mime_type", mimeType),
		zap.String("belongs_to_tenant", string(record.BelongsToTenant)),
		zap.Float64("confidence", record.Confidence),
	)
	return record, nil
}

func (o *GigaChatOracle) generateFromText(ctx context.Context, modelName, prompt, text string) (string, error) {
	model := o.client.GenerativeModel(modelName)
	model.SystemInstruction = prompt
	model.Temperature = 0.1

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: "Document text:\n\n" + text},
	}

	resp, err := model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GigaChat")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// generateFromFile uploads content and asks the vision model about it. An
// expired token is refreshed once.
func (o *GigaChatOracle) generateFromFile(ctx context.Context, modelName, prompt string, content []byte, mimeType string) (string, error) {
	output, err := o.visionOnce(ctx, modelName, prompt, content, mimeType)
	if errors.Is(err, errGigaChatUnauthorized) {
		o.invalidateToken()
		output, err = o.visionOnce(ctx, modelName, prompt, content, mimeType)
	}
	return output, err
}

func (o *GigaChatOracle) visionOnce(ctx context.Context, modelName, prompt string, content []byte, mimeType string) (string, error) {
	token, err := o.token(ctx)
	if err != nil {
		return "", err
	}

	fileID, err := o.uploadFile(ctx, token, content, mimeType)
	if err != nil {
		return "", err
	}
	return o.visionCompletion(ctx, token, modelName, prompt, fileID)
}

func (o *GigaChatOracle) token(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.accessToken != "" && time.Now().Before(o.tokenExpiry) {
		return o.accessToken, nil
	}

	token, expiry, err := o.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	o.accessToken = token
	o.tokenExpiry = expiry
	return token, nil
}

func (o *GigaChatOracle) invalidateToken() {
	o.mu.Lock()
	o.accessToken = ""
	o.mu.Unlock()
}

// fetchToken exchanges the Base64 API key for an access token.
func (o *GigaChatOracle) fetchToken(ctx context.Context) (string, time.Time, error) {
	rqUID := uuid.New().String()

	formData := url.Values{}
	formData.Set("scope", o.config.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.oauthURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+o.config.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		o.logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(bodyBytes)),
			zap.String("rq_uid", rqUID),
		)
		return "", time.Time{}, fmt.Errorf("OAuth failed with status %d", resp.StatusCode)
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("empty access token in OAuth response")
	}

	// expires_at is in milliseconds; refresh a minute early
	expiry := time.Now().Add(29 * time.Minute)
	if oauthResp.ExpiresAt > 0 {
		expiry = time.UnixMilli(oauthResp.ExpiresAt).Add(-time.Minute)
	}
	return oauthResp.AccessToken, expiry, nil
}

func (o *GigaChatOracle) uploadFile(ctx context.Context, token string, content []byte, mimeType string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// "general" files can be attached to chat completions
	if err := writer.WriteField("purpose", "general"); err != nil {
		return "", fmt.Errorf("failed to write purpose field: %w", err)
	}
	part, err := writer.CreatePart(map[string][]string{
		"Content-Type":        {mimeType},
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="document%s"`, extensionFor(mimeType))},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized:
		return "", errGigaChatUnauthorized
	case http.StatusRequestEntityTooLarge:
		return "", fmt.Errorf("file too large for GigaChat (%d bytes)", len(content))
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	o.logger.Debug("File uploaded to GigaChat", zap.String("file_id", uploadResp.ID))
	return uploadResp.ID, nil
}

func (o *GigaChatOracle) visionCompletion(ctx context.Context, token, modelName, prompt, fileID string) (string, error) {
	requestBody := map[string]interface{}{
		"model": modelName,
		"messages": []map[string]interface{}{
			{
				"role":        "user",
				"content":     prompt,
				"attachments": [][]string{{fileID}},
			},
		},
		"temperature":        0.1,
		"stream":             false,
		"repetition_penalty": 1.0,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errGigaChatUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision API failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var visionResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}
	return strings.TrimSpace(visionResp.Choices[0].Message.Content), nil
}

func (o *GigaChatOracle) Close() error {
	if o.client != nil {
		o.client.Close()
	}
	return nil
}

func refused(output string) bool {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "{") {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	return ".jpg"
}
