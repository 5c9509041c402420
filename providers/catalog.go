// Package providers carries the static catalog of supported LLM backends
// and the factory that turns a registered profile into a wired adapter.
package providers

import (
	"github.com/BaSui01/narraflow/types"
)

// Wire identifies the request/response encoding an adapter speaks.
type Wire string

const (
	// WireGemini is Google's native generateContent format.
	WireGemini Wire = "gemini"
	// WireOpenAI is the OpenAI chat completions format, also exposed by
	// DashScope, SiliconFlow, DeepSeek, Moonshot and the NarratoAI proxy.
	WireOpenAI Wire = "openai"
)

// Spec describes one catalog entry: which roles the backend serves, how to
// talk to it, and what to use when the profile leaves a field empty.
type Spec struct {
	ID          string
	Label       string
	Wire        Wire
	Roles       []types.Role
	BaseURL     string
	VisionModel string
	TextModel   string
}

// Supports reports whether the backend serves the given role.
func (s Spec) Supports(role types.Role) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultModel returns the catalog default model for a role.
func (s Spec) DefaultModel(role types.Role) string {
	if role == types.RoleVision {
		return s.VisionModel
	}
	return s.TextModel
}

// catalog 是支持的后端全集，按展示顺序排列。新增后端在这里登记，
// 配置层只接受这里出现的 id。
var catalog = []Spec{
	{
		ID:          "gemini",
		Label:       "Google Gemini",
		Wire:        WireGemini,
		Roles:       []types.Role{types.RoleVision, types.RoleText},
		BaseURL:     "https://generativelanguage.googleapis.com",
		VisionModel: "gemini-2.0-flash",
		TextModel:   "gemini-2.0-flash",
	},
	{
		ID:          "qwenvl",
		Label:       "Qwen-VL (DashScope)",
		Wire:        WireOpenAI,
		Roles:       []types.Role{types.RoleVision},
		BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
		VisionModel: "qwen-vl-max-latest",
	},
	{
		ID:          "siliconflow",
		Label:       "SiliconFlow",
		Wire:        WireOpenAI,
		Roles:       []types.Role{types.RoleVision, types.RoleText},
		BaseURL:     "https://api.siliconflow.cn/v1",
		VisionModel: "Qwen/Qwen2.5-VL-72B-Instruct",
		TextModel:   "deepseek-ai/DeepSeek-V3",
	},
	{
		ID:          "openai",
		Label:       "OpenAI",
		Wire:        WireOpenAI,
		Roles:       []types.Role{types.RoleVision, types.RoleText},
		BaseURL:     "https://api.openai.com/v1",
		VisionModel: "gpt-4o",
		TextModel:   "gpt-4o",
	},
	{
		ID:        "deepseek",
		Label:     "DeepSeek",
		Wire:      WireOpenAI,
		Roles:     []types.Role{types.RoleText},
		BaseURL:   "https://api.deepseek.com/v1",
		TextModel: "deepseek-chat",
	},
	{
		ID:        "qwen",
		Label:     "Qwen (DashScope)",
		Wire:      WireOpenAI,
		Roles:     []types.Role{types.RoleText},
		BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
		TextModel: "qwen-plus",
	},
	{
		ID:        "moonshot",
		Label:     "Moonshot",
		Wire:      WireOpenAI,
		Roles:     []types.Role{types.RoleText},
		BaseURL:   "https://api.moonshot.cn/v1",
		TextModel: "moonshot-v1-8k",
	},
	{
		// NarratoAI 官方中转，代理 Gemini 系列模型。
		ID:          "narrato",
		Label:       "NarratoAI",
		Wire:        WireOpenAI,
		Roles:       []types.Role{types.RoleVision, types.RoleText},
		BaseURL:     "https://api.narratoai.cn/v1",
		VisionModel: "gemini-2.0-flash",
		TextModel:   "gemini-2.0-flash",
	},
}

// Catalog returns all catalog entries in display order. The slice is a
// copy; callers may reorder it freely.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (Spec, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// IDs returns the catalog ids in display order.
func IDs() []string {
	out := make([]string, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s.ID)
	}
	return out
}
