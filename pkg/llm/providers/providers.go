package providers

import "github.com/ravi-parthasarathy/loom/pkg/llm"

// RegisterAll registers every built-in provider on the factory.
func RegisterAll(f *llm.Factory) {
	f.Register("anthropic", Anthropic)
	f.Register("openai", OpenAI)
}
