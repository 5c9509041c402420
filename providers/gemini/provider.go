package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/transport"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/types"
)

// Provider 实现 Google Gemini 的原生 generateContent 适配。
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 图像以 inlineData（base64 + mimeType）内嵌在 parts 中
// 3. system 消息映射为 systemInstruction
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Config carries the per-profile connection settings.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// New 创建 Gemini 适配器。client 为共享的出站 HTTP 客户端，
// 由上层按代理策略构造。
func New(cfg Config, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if client == nil {
		client = &http.Client{Timeout: transport.DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

func (p *Provider) Name() string { return p.cfg.Name }

// Gemini 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenerationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate    `json:"candidates"`
	UsageMetadata  *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
	ResponseID   string `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// convertContents 将统一格式转换为 Gemini 格式。system 消息提取为
// systemInstruction，assistant 角色重命名为 model。
func convertContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			systemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content}},
			}
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model" // Gemini 使用 "model" 而不是 "assistant"
		}

		content := geminiContent{Role: role}

		if len(m.Parts) > 0 {
			for _, part := range m.Parts {
				switch part.Type {
				case llm.PartTypeImage:
					content.Parts = append(content.Parts, geminiPart{
						InlineData: &geminiInlineData{
							MimeType: part.MIME,
							Data:     part.Data,
						},
					})
				default:
					if part.Text != "" {
						content.Parts = append(content.Parts, geminiPart{Text: part.Text})
					}
				}
			}
		} else if m.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: m.Content})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	return systemInstruction, contents
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	systemInstruction, contents := convertContents(req.Messages)
	if len(contents) == 0 {
		return nil, types.NewError(types.ErrProviderBadResponse, "request has no content to send").
			WithProvider(p.Name())
	}

	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
	}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 || len(req.Stop) > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "encode request", err).WithProvider(p.Name())
	}

	model := chooseModel(req, p.cfg.Model)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "build request", err).WithProvider(p.Name())
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transport.Classify(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return nil, mapStatus(resp.StatusCode, msg, p.Name())
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, types.WrapError(types.ErrProviderBadResponse, "decode response", err).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true).
			WithProvider(p.Name())
	}

	return p.toChatResponse(geminiResp, model)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "build request", err).WithProvider(p.Name())
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, transport.Classify(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			mapStatus(resp.StatusCode, msg, p.Name())
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// toChatResponse 取第一个候选的全部文本片段拼接为响应文本。
// 安全拦截（promptFeedback.blockReason 或 finishReason=SAFETY）
// 映射为 PROVIDER_CONTENT_FILTERED。
func (p *Provider) toChatResponse(gr geminiResponse, model string) (*llm.ChatResponse, error) {
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return nil, types.NewError(types.ErrProviderContentFiltered,
			fmt.Sprintf("prompt blocked: %s", gr.PromptFeedback.BlockReason)).
			WithProvider(p.Name())
	}
	if len(gr.Candidates) == 0 {
		return nil, types.NewError(types.ErrProviderBadResponse, "response has no candidates").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	candidate := gr.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		return nil, types.NewError(types.ErrProviderContentFiltered, "candidate blocked by safety filter").
			WithProvider(p.Name())
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, types.NewError(types.ErrProviderBadResponse, "candidate has no text").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	resp := &llm.ChatResponse{
		ID:           gr.ResponseID,
		Provider:     p.Name(),
		Model:        model,
		Text:         strings.TrimSpace(text.String()),
		FinishReason: candidate.FinishReason,
		CreatedAt:    time.Now(),
	}
	if gr.UsageMetadata != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

func mapStatus(status int, msg string, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrProviderAuth, msg).
			WithHTTPStatus(status).WithProvider(provider)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrProviderRateLimited, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	case http.StatusNotFound:
		return types.NewError(types.ErrModelNotFound, msg).
			WithHTTPStatus(status).WithProvider(provider)
	case http.StatusBadRequest:
		// Gemini 把配额耗尽也报成 400
		if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			return types.NewError(types.ErrProviderQuotaExceeded, msg).
				WithHTTPStatus(status).WithProvider(provider)
		}
		if strings.Contains(msg, "token") && strings.Contains(msg, "exceed") {
			return types.NewError(types.ErrContextTooLong, msg).
				WithHTTPStatus(status).WithProvider(provider)
		}
		return types.NewError(types.ErrProviderBadResponse, msg).
			WithHTTPStatus(status).WithProvider(provider)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrProviderUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrProviderUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(provider)
	}
}

func chooseModel(req *llm.ChatRequest, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return defaultModel
}
