package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/appforge/llm"
)

// OllamaProvider targets a local OpenAI-compatible server such as Ollama or vLLM.
type OllamaProvider struct {
	chatCompletions
}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns "ollama".
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL defaults to the local Ollama port.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	return chatURL(baseURL, "http://localhost:11434/v1")
}

// SetHeaders sends OPENAI_API_KEY as a bearer token when set; local servers
// usually need none.
func (o *OllamaProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
