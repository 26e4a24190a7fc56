package unifiedllm

import "fmt"

// ProviderInfo describes a known hosted provider: the environment variable
// holding its API key and the base URL of its OpenAI-compatible endpoint.
type ProviderInfo struct {
	Name    string `json:"name"`
	EnvVar  string `json:"env_var"`
	BaseURL string `json:"base_url"`
}

// DefaultProvider is used when no provider is configured.
const DefaultProvider = "openrouter"

var providerTable = []ProviderInfo{
	{Name: "xai", EnvVar: "XAI_API_KEY", BaseURL: "https://api.x.ai/v1"},
	{Name: "google", EnvVar: "GEMINI_API_KEY", BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
	{Name: "google_vertex", EnvVar: "GOOGLE_VERTEX_API_KEY", BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
	{Name: "openai", EnvVar: "OPENAI_API_KEY", BaseURL: "https://api.openai.com/v1"},
	{Name: "anthropic", EnvVar: "ANTHROPIC_API_KEY", BaseURL: "https://api.anthropic.com/v1"},
	{Name: "mistral", EnvVar: "MISTRAL_API_KEY", BaseURL: "https://api.mistral.ai/v1"},
	{Name: "deepseek", EnvVar: "DEEPSEEK_API_KEY", BaseURL: "https://api.deepseek.com/v1"},
	{Name: "cerebras", EnvVar: "CEREBRAS_API_KEY", BaseURL: "https://api.cerebras.net/v1"},
	{Name: "groq", EnvVar: "GROQ_API_KEY", BaseURL: "https://api.groq.com/v1"},
	{Name: "vercel", EnvVar: "VERCEL_API_KEY", BaseURL: "https://api.vercel.ai/v1"},
	{Name: "openrouter", EnvVar: "OPENROUTER_API_KEY", BaseURL: "https://openrouter.ai/api/v1"},
}

// Providers returns a copy of the provider table.
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, len(providerTable))
	copy(out, providerTable)
	return out
}

// LookupProvider returns the table entry for name.
func LookupProvider(name string) (ProviderInfo, error) {
	for _, p := range providerTable {
		if p.Name == name {
			return p, nil
		}
	}
	return ProviderInfo{}, &ConfigurationError{SDKError: SDKError{
		Message: fmt.Sprintf("Unknown provider: %s", name),
	}}
}

// ResolveProvider looks up name and reads its API key through getenv.
func ResolveProvider(name string, getenv func(string) string) (ProviderInfo, string, error) {
	info, err := LookupProvider(name)
	if err != nil {
		return ProviderInfo{}, "", err
	}
	key := getenv(info.EnvVar)
	if key == "" {
		return ProviderInfo{}, "", &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("Missing API key for provider: %s", name),
		}}
	}
	return info, key, nil
}
