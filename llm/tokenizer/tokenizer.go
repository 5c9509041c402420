// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于解说文案 Prompt 的 Token 预算。
package tokenizer

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数。
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度。
	MaxTokens() int

	// Name 返回分词器的名称。
	Name() string
}

// ForModel 返回适用于给定模型的分词器：已知 OpenAI 家族模型走其对应
// 编码，其余模型统一按 cl100k_base 计数；tiktoken 编码数据不可用时自动
// 退化为 CJK 估算器。
func ForModel(model string) Tokenizer {
	return &fallbackTokenizer{
		primary:  NewTiktokenTokenizer(model),
		fallback: NewEstimatorTokenizer(model, 0),
	}
}

// fallbackTokenizer 先用精确计数器，失败时退化为估算器。
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := f.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) MaxTokens() int {
	return f.primary.MaxTokens()
}

func (f *fallbackTokenizer) Name() string {
	return f.primary.Name()
}
