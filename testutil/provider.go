// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、错误注入与按调用次数脚本化的失败场景。
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	name     string
	response string
	err      error
	usage    llm.ChatUsage

	// 调用记录
	calls          []MockProviderCall
	callCount      int
	completionFunc func(ctx context.Context, call int, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// 行为控制
	delay     time.Duration
	failAfter int // 第 N 次调用之后开始失败
	unhealthy bool
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:     name,
		response: "mock response",
		usage:    llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// WithResponse 设置固定响应文本
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数，call 从 1 开始计数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, call int, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithUnhealthy 让健康检查报告不可用
func (m *MockProvider) WithUnhealthy() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy = true
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	call := m.callCount
	delay := m.delay
	fn := m.completionFunc
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return m.record(req, nil, ctx.Err())
		case <-time.After(delay):
		}
	}

	if fn != nil {
		resp, err := fn(ctx, call, req)
		return m.record(req, resp, err)
	}

	m.mu.RLock()
	failAfter := m.failAfter
	presetErr := m.err
	response := m.response
	usage := m.usage
	name := m.name
	m.mu.RUnlock()

	if failAfter > 0 && call > failAfter {
		err := types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("mock provider %s: scripted failure on call %d", name, call)).
			WithProvider(name).
			WithRetryable(true)
		return m.record(req, nil, err)
	}
	if presetErr != nil {
		return m.record(req, nil, presetErr)
	}

	resp := &llm.ChatResponse{
		ID:           fmt.Sprintf("mock-%s-%d", name, call),
		Provider:     name,
		Model:        req.Model,
		Text:         response,
		FinishReason: "stop",
		Usage:        usage,
		CreatedAt:    time.Now(),
	}
	return m.record(req, resp, nil)
}

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unhealthy {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("mock provider %s is down", m.name)).
			WithProvider(m.name).
			WithRetryable(true)
	}
	return &llm.HealthStatus{Healthy: true, Latency: 10 * time.Millisecond}, nil
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	return resp, err
}

// --- 查询方法 ---

// Calls 获取所有调用记录
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall{}, m.calls...)
}

// CallCount 获取调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// LastCall 获取最后一次调用
func (m *MockProvider) LastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// UserPrompt 返回第 i 次调用里第一条非空用户消息的文本
func (m *MockProvider) UserPrompt(i int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.calls) || m.calls[i].Request == nil {
		return ""
	}
	for _, msg := range m.calls[i].Request.Messages {
		if msg.Role == llm.RoleUser && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}

// Reset 重置调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
}

// --- 预设 Provider 工厂 ---

// NewSuccessProvider 创建总是成功的 Provider
func NewSuccessProvider(name, response string) *MockProvider {
	return NewMockProvider(name).WithResponse(response)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(name string, err error) *MockProvider {
	return NewMockProvider(name).WithError(err)
}

// NewFlakyProvider 创建第 N 次调用后开始失败的 Provider
func NewFlakyProvider(name string, failAfter int, response string) *MockProvider {
	return NewMockProvider(name).
		WithResponse(response).
		WithFailAfter(failAfter)
}

// --- 注册表辅助 ---

// NewRegistry 创建由固定 Provider 集合支撑的注册表，注册表按 id
// 直接返回对应的模拟实现。
func NewRegistry(fakes map[string]llm.Provider) *llm.ProviderRegistry {
	return llm.NewProviderRegistry(func(p llm.ProviderProfile) (llm.Provider, error) {
		f, ok := fakes[p.ID]
		if !ok {
			return nil, fmt.Errorf("no mock provider prepared for %s", p.ID)
		}
		return f, nil
	})
}

// RegisterVisionText 注册默认的 gemini 视觉档案与 deepseek 文本档案
func RegisterVisionText(reg *llm.ProviderRegistry) {
	reg.Register(llm.ProviderProfile{ID: "gemini", Role: types.RoleVision, APIKey: "test-key", Model: "gemini-2.0-flash"})
	reg.Register(llm.ProviderProfile{ID: "deepseek", Role: types.RoleText, APIKey: "test-key", Model: "deepseek-chat"})
}
