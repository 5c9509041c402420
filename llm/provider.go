package llm

import (
	"context"
	"encoding/base64"
	"time"
)

// Role of a chat message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType distinguishes pieces of a multimodal message.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
)

// Part is one piece of a multimodal message. Image parts carry the
// payload base64-encoded together with its MIME type; vendor adapters
// reshape them into their own wire format.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	Data string   `json:"data,omitempty"`
	MIME string   `json:"mime,omitempty"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewImagePart creates an image part from raw bytes. An empty mime
// defaults to image/jpeg, the format keyframe extractors emit.
func NewImagePart(data []byte, mime string) Part {
	if mime == "" {
		mime = "image/jpeg"
	}
	return Part{
		Type: PartTypeImage,
		Data: base64.StdEncoding.EncodeToString(data),
		MIME: mime,
	}
}

// DataURI renders an image part as a data URI, the form OpenAI-compatible
// APIs accept in image_url content parts.
func (p Part) DataURI() string {
	return "data:" + p.MIME + ";base64," + p.Data
}

// Message represents a conversation message. Parts take precedence over
// Content when non-empty; plain text requests only set Content.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// NewSystemMessage creates a plain text system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a plain text user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewMultimodalMessage creates a user message from mixed parts.
func NewMultimodalMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// ChatUsage reports token accounting for one call.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatResponse is the completed response. The pipeline always requests a
// single completion, so the response carries one text.
type ChatResponse struct {
	ID           string    `json:"id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	Text         string    `json:"text"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        ChatUsage `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义了统一的 LLM 适配接口。视觉与文本请求共用同一接口：
// 消息中的 Part 决定请求是否携带图像载荷。
type Provider interface {
	// Completion 发起同步请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck 执行轻量级健康检查，返回延迟与可用性信息。
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
