package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/appforge/llm"
)

// OpenAIProvider targets api.openai.com or OpenRouter.
type OpenAIProvider struct {
	chatCompletions
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns "openai".
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL defaults to the public OpenAI API.
func (o *OpenAIProvider) BuildURL(baseURL string) string {
	return chatURL(baseURL, "https://api.openai.com/v1")
}

// SetHeaders sets the bearer token and the optional OpenRouter attribution headers.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if siteURL := os.Getenv("OPENROUTER_SITE_URL"); siteURL != "" {
		req.Header.Set("HTTP-Referer", siteURL)
	}
	if siteName := os.Getenv("OPENROUTER_SITE_NAME"); siteName != "" {
		req.Header.Set("X-Title", siteName)
	}
}
