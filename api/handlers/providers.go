package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/api"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/providers"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 🔌 Provider 接口 Handler
// =============================================================================

// ProvidersHandler 列出目录中的后端及其配置状态，API Key 永不出现在
// 响应里。模型名与 base URL 按配置覆盖目录默认值的规则给出生效值。
type ProvidersHandler struct {
	registry *llm.ProviderRegistry
	logger   *zap.Logger
}

// NewProvidersHandler 创建 Provider 处理器
func NewProvidersHandler(registry *llm.ProviderRegistry, logger *zap.Logger) *ProvidersHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvidersHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "providers_handler")),
	}
}

// HandleList 处理 Provider 清单查询
// @Summary Provider 清单
// @Description 按角色列出支持的后端、生效模型与配置状态
// @Tags Provider
// @Produce json
// @Param role query string false "角色过滤" Enums(vision, text)
// @Success 200 {object} Response "Provider 清单"
// @Failure 400 {object} Response "无效角色"
// @Security ApiKeyAuth
// @Router /v1/providers [get]
func (h *ProvidersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	roles, err := rolesFromQuery(r.URL.Query().Get("role"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	views := make([]api.ProviderView, 0, len(providers.Catalog()))
	for _, spec := range providers.Catalog() {
		for _, role := range roles {
			if !spec.Supports(role) {
				continue
			}
			views = append(views, h.viewFor(spec, role))
		}
	}

	WriteSuccess(w, api.ProviderListResponse{Providers: views})
}

// viewFor 合成单个 (后端, 角色) 视图
func (h *ProvidersHandler) viewFor(spec providers.Spec, role types.Role) api.ProviderView {
	view := api.ProviderView{
		ID:      spec.ID,
		Role:    string(role),
		Label:   spec.Label,
		Model:   spec.DefaultModel(role),
		BaseURL: spec.BaseURL,
	}

	profile, ok := h.registry.Profile(role, spec.ID)
	if !ok {
		return view
	}
	if profile.Model != "" {
		view.Model = profile.Model
	}
	if profile.BaseURL != "" {
		view.BaseURL = profile.BaseURL
	}
	view.Configured = profile.Configured()
	return view
}

// rolesFromQuery 解析 role 查询参数，为空表示两种角色都要
func rolesFromQuery(raw string) ([]types.Role, *types.Error) {
	switch raw {
	case "":
		return []types.Role{types.RoleVision, types.RoleText}, nil
	case string(types.RoleVision):
		return []types.Role{types.RoleVision}, nil
	case string(types.RoleText):
		return []types.Role{types.RoleText}, nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			"role must be vision or text")
	}
}
