// Package main implements a mock LLM server for offline appforge runs.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, routing by the "model" field in the request.
//
// Usage:
//
//	mock-llm --fixtures ./fixtures --port 11434
//
// Fixtures live in one directory per model. Files are served in name order,
// one per call, and the last file repeats once the sequence is exhausted:
//
//	fixtures/calc/01-plan.json
//	fixtures/calc/02-tasks.json
//	fixtures/calc/03-index.html
//
// A file named like "04-status-503.txt" answers with that HTTP status and its
// content as the error body, which exercises retry handling.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Fixtures ---

// fixture is one canned reply.
type fixture struct {
	Name    string
	Content string
	// Status, when non-zero, is returned instead of a completion.
	Status int
}

var statusFileRe = regexp.MustCompile(`status-(\d{3})`)

// loadFixtures reads dir/<model>/* into per-model sequences ordered by file
// name. JSON files must be valid JSON.
func loadFixtures(dir string) (map[string][]fixture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fixture dir: %w", err)
	}

	fixtures := make(map[string][]fixture)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		model := e.Name()
		files, err := os.ReadDir(filepath.Join(dir, model))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", model, err)
		}

		names := make([]string, 0, len(files))
		for _, f := range files {
			if !f.IsDir() && !strings.HasPrefix(f.Name(), ".") {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, model, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			f := fixture{Name: name, Content: string(data)}
			if m := statusFileRe.FindStringSubmatch(name); m != nil {
				f.Status, _ = strconv.Atoi(m[1])
			} else if strings.HasSuffix(name, ".json") && !json.Valid(data) {
				return nil, fmt.Errorf("invalid JSON in %s", path)
			}
			fixtures[model] = append(fixtures[model], f)
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixtures found in %s", dir)
	}
	return fixtures, nil
}

// --- Server ---

// capturedRequest stores the key fields of an incoming request for test verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-model call number
	Fixture   string        `json:"fixture"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]fixture
	logger   *slog.Logger

	mu       sync.Mutex
	calls    int
	requests map[string][]capturedRequest
}

func newServer(fixtures map[string][]fixture, logger *slog.Logger) *server {
	return &server{
		fixtures: fixtures,
		logger:   logger,
		requests: make(map[string][]capturedRequest),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// next picks the fixture for model's next call and records the request.
func (s *server) next(model string, req chatRequest) (fixture, int, bool) {
	seq, ok := s.fixtures[model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(model, "mock-")]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if !ok || len(seq) == 0 {
		return fixture{}, 0, false
	}

	callIndex := len(s.requests[model])
	f := seq[min(callIndex, len(seq)-1)]
	s.requests[model] = append(s.requests[model], capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		CallIndex: callIndex + 1,
		Fixture:   f.Name,
		Timestamp: time.Now().UnixMilli(),
	})
	return f, callIndex + 1, true
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	f, callIndex, ok := s.next(req.Model, req)
	if !ok {
		s.logger.Warn("No fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.logger.Info("Serving fixture",
		"model", req.Model,
		"call", callIndex,
		"fixture", f.Name,
		"messages", len(req.Messages))

	if f.Status != 0 {
		http.Error(w, f.Content, f.Status)
		return
	}

	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: f.Content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(f.Content) / 4, // rough estimate
			CompletionTokens: len(f.Content) / 4,
			TotalTokens:      len(f.Content) / 2,
		},
	})
}

// handleModels lists the mock models (Ollama-compatible).
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeJSON(w, map[string]any{"object": "list", "data": models})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.requests))
	for model, reqs := range s.requests {
		byModel[model] = len(reqs)
	}
	total := s.calls
	s.mu.Unlock()

	writeJSON(w, map[string]any{"total_calls": total, "calls_by_model": byModel})
}

// handleRequests returns captured requests, optionally filtered by ?model=
// and ?call= (1-indexed).
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.requests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callFilter == 0 || req.CallIndex == callFilter {
				result[model] = append(result[model], req)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"requests_by_model": result})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	var (
		fixtureDir string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "mock-llm",
		Short: "OpenAI-compatible fixture server for offline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			// Allow env var override
			if fixtureDir == "" {
				fixtureDir = os.Getenv("MOCK_LLM_FIXTURES")
			}
			if fixtureDir == "" {
				fixtureDir = "fixtures"
			}

			fixtures, err := loadFixtures(fixtureDir)
			if err != nil {
				return err
			}
			for model, seq := range fixtures {
				logger.Info("Loaded fixtures", "model", model, "count", len(seq))
			}

			addr := fmt.Sprintf(":%d", port)
			logger.Info("Mock LLM server listening", "addr", addr)
			srv := &http.Server{
				Addr:              addr,
				Handler:           newServer(fixtures, logger).routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "directory with one fixture folder per model")
	cmd.Flags().IntVar(&port, "port", 11434, "port to listen on")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
