package providers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/providers/gemini"
	"github.com/BaSui01/narraflow/providers/openaicompat"
	"github.com/BaSui01/narraflow/types"
)

// NewConstructor 返回注册表使用的构造器：按目录项的 wire 格式挑选适配
// 器。所有适配器共用同一个 HTTP 客户端，代理策略因此对每个后端一致
// 生效。Profile 留空的 base URL 与模型名由目录默认值补齐。
func NewConstructor(client *http.Client, logger *zap.Logger) llm.Constructor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(profile llm.ProviderProfile) (llm.Provider, error) {
		spec, ok := Lookup(profile.ID)
		if !ok {
			return nil, types.NewError(types.ErrUnknownProvider,
				fmt.Sprintf("provider %q is not in the catalog", profile.ID)).
				WithProvider(profile.ID)
		}
		if !spec.Supports(profile.Role) {
			return nil, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("provider %q does not serve role %s", profile.ID, profile.Role)).
				WithProvider(profile.ID)
		}

		baseURL := profile.BaseURL
		if baseURL == "" {
			baseURL = spec.BaseURL
		}
		model := profile.Model
		if model == "" {
			model = spec.DefaultModel(profile.Role)
		}

		log := logger.With(
			zap.String("provider", profile.ID),
			zap.String("role", string(profile.Role)),
		)

		switch spec.Wire {
		case WireGemini:
			return gemini.New(gemini.Config{
				Name:    profile.ID,
				APIKey:  profile.APIKey,
				BaseURL: baseURL,
				Model:   model,
			}, client, log), nil
		case WireOpenAI:
			return openaicompat.New(openaicompat.Config{
				Name:    profile.ID,
				APIKey:  profile.APIKey,
				BaseURL: baseURL,
				Model:   model,
			}, client, log), nil
		default:
			return nil, types.NewError(types.ErrInternal,
				fmt.Sprintf("unhandled wire format %q", spec.Wire))
		}
	}
}
