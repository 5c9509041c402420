package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CJKHeavierThanASCII(t *testing.T) {
	e := NewEstimatorTokenizer("deepseek-chat", 0)

	cjk, err := e.CountTokens(strings.Repeat("画", 30))
	require.NoError(t, err)
	ascii, err := e.CountTokens(strings.Repeat("a", 30))
	require.NoError(t, err)

	assert.Greater(t, cjk, ascii, "CJK 文本的 token 数应高于等长 ASCII")
}

func TestEstimator_EmptyText(t *testing.T) {
	e := NewEstimatorTokenizer("x", 0)
	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTiktoken_ModelSelection(t *testing.T) {
	cases := []struct {
		model    string
		encoding string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-2024-05-13", "o200k_base"}, // 前缀匹配
		{"gpt-3.5-turbo", "cl100k_base"},
		{"deepseek-chat", "cl100k_base"}, // 未知模型默认
		{"qwen-plus", "cl100k_base"},
		{"moonshot-v1-8k", "cl100k_base"},
	}
	for _, tc := range cases {
		tok := NewTiktokenTokenizer(tc.model)
		assert.Equal(t, tc.encoding, tok.encoding, tc.model)
	}
}

func TestForModel_NeverFails(t *testing.T) {
	tok := ForModel("deepseek-chat")

	// 无论 tiktoken 数据是否可用，计数都应返回一个正数。
	n, err := tok.CountTokens("这是一段用于解说的测试文字。")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
