package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 基于 tiktoken 的精确计数器。
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

// modelEncodings 将模型名称映射到其 tiktoken 编码和上下文大小。
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// NewTiktokenTokenizer 为给定模型创建计数器。未知模型（deepseek、qwen、
// moonshot 等）统一按 cl100k_base 近似计数。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := modelEncodings[model]
	if !ok {
		// 尝试前缀匹配。
		for prefix, i := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				info = i
				ok = true
				break
			}
		}
	}

	if !ok {
		info = struct {
			encoding  string
			maxTokens int
		}{encoding: "cl100k_base", maxTokens: 8192}
	}

	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init lazily 初始化 tiktoken 编码（首次使用时可能下载数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	tokens := t.enc.Encode(text, nil, nil)
	return len(tokens), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
