package gateway

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/llm"
	"github.com/BaSui01/aigroupchat/llm/providers/openaicompat"
	"github.com/BaSui01/aigroupchat/types"
)

// 支持的上游类型，均走 OpenAI 兼容协议
var compatibleProviders = map[string]string{
	"":                  "https://api.openai.com",
	"openai":            "https://api.openai.com",
	"openai-compatible": "",
	"qwen":              "https://dashscope.aliyuncs.com/compatible-mode",
	"deepseek":          "https://api.deepseek.com",
}

// RegistryFromConfig 按配置构建模型引用注册表
func RegistryFromConfig(models map[string]config.ModelConfig, logger *zap.Logger) (*llm.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	refs := make([]string, 0, len(models))
	for ref := range models {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	reg := llm.NewRegistry()
	for _, ref := range refs {
		mc := models[ref]
		defaultURL, ok := compatibleProviders[mc.Provider]
		if !ok {
			return nil, types.NewInvalidRequestError("model %q: unsupported provider %q", ref, mc.Provider)
		}
		baseURL := mc.BaseURL
		if baseURL == "" {
			baseURL = defaultURL
		}
		if baseURL == "" {
			return nil, types.NewInvalidRequestError("model %q: base_url is required", ref)
		}
		name := mc.Provider
		if name == "" {
			name = "openai"
		}
		model := mc.Model
		if model == "" {
			model = ref
		}
		reg.Register(ref, llm.Binding{
			Provider: openaicompat.New(openaicompat.Config{
				ProviderName: name,
				APIKey:       mc.APIKey,
				BaseURL:      baseURL,
				DefaultModel: model,
				Timeout:      mc.Timeout,
			}, logger),
			Model:             model,
			MaxContextTokens:  mc.MaxContextTokens,
			RequestsPerSecond: mc.RequestsPerSecond,
			Burst:             mc.Burst,
		})
		logger.Debug("model reference registered", zap.String("reference", ref), zap.String("provider", name), zap.String("model", model))
	}
	return reg, nil
}
