// Package openaicompat adapts any OpenAI-compatible chat completions
// endpoint: OpenAI itself plus DashScope, SiliconFlow, DeepSeek, Moonshot
// and the NarratoAI proxy, which all speak the same wire format with a
// different base URL.
package openaicompat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/transport"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/types"
)

// Config carries the per-profile connection settings. Name is the catalog
// id the adapter reports in errors (qwenvl, siliconflow, ...).
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Provider 通过 go-openai 客户端访问 OpenAI 兼容端点。
type Provider struct {
	cfg    Config
	client *openai.Client
	logger *zap.Logger
}

// New 创建适配器。httpClient 为共享的出站 HTTP 客户端，代理策略
// 在其 Transport 上统一生效。
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: transport.DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = httpClient

	return &Provider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

// convertMessages 将统一消息转换为 go-openai 的消息结构。多模态 Part
// 转为 MultiContent，图像以 data URI 形式放入 image_url。
func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := openai.ChatCompletionMessage{Role: string(m.Role)}

		if len(m.Parts) > 0 {
			oa.MultiContent = make([]openai.ChatMessagePart, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case llm.PartTypeImage:
					oa.MultiContent = append(oa.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    part.DataURI(),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				default:
					oa.MultiContent = append(oa.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			oa.Content = m.Content
		}

		out = append(out, oa)
	}
	return out
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrProviderBadResponse, "response has no choices").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, types.NewError(types.ErrProviderContentFiltered, "completion blocked by content filter").
			WithProvider(p.Name())
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, types.NewError(types.ErrProviderBadResponse, "choice has no content").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	out := &llm.ChatResponse{
		ID:           resp.ID,
		Provider:     p.Name(),
		Model:        resp.Model,
		Text:         text,
		FinishReason: string(choice.FinishReason),
		Usage: llm.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.Created > 0 {
		out.CreatedAt = time.Unix(resp.Created, 0)
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.ListModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, p.mapError(err)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// mapError 将 go-openai 的错误归一为统一错误码。APIError 携带上游
// HTTP 状态；其余按网络层错误分类。
func (p *Provider) mapError(err error) *types.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return p.mapStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.mapStatus(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return transport.Classify(err, p.Name())
}

func (p *Provider) mapStatus(status int, msg string, cause error) *types.Error {
	build := func(code types.ErrorCode, retryable bool) *types.Error {
		return types.WrapError(code, msg, cause).
			WithHTTPStatus(status).
			WithRetryable(retryable).
			WithProvider(p.Name())
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return build(types.ErrProviderAuth, false)
	case http.StatusTooManyRequests:
		// 429 既可能是限速也可能是配额耗尽，按报文区分
		if strings.Contains(msg, "quota") || strings.Contains(msg, "billing") {
			return build(types.ErrProviderQuotaExceeded, false)
		}
		return build(types.ErrProviderRateLimited, true)
	case http.StatusNotFound:
		return build(types.ErrModelNotFound, false)
	case http.StatusBadRequest:
		if strings.Contains(msg, "maximum context length") || strings.Contains(msg, "context_length") {
			return build(types.ErrContextTooLong, false)
		}
		return build(types.ErrProviderBadResponse, false)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return build(types.ErrProviderUnavailable, true)
	default:
		return build(types.ErrProviderUnavailable, status >= 500)
	}
}
