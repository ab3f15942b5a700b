package autofix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Request describes a failure for the remediation model.
type Request struct {
	Problem string
	Output  string
	// Files maps repository-relative paths to their current content.
	Files map[string]string
}

// FileChange is a full replacement of one file.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Patch struct {
	Explanation string       `json:"explanation"`
	Files       []FileChange `json:"files"`
}

// Assistant proposes a patch for a failure.
type Assistant interface {
	Suggest(ctx context.Context, req Request) (Patch, error)
}

var ErrNoSuggestion = errors.New("autofix: assistant returned no changes")

const systemPrompt = `You fix failing checks in a source repository right before a release.
Reply with a single JSON object and nothing else:
{"explanation": "<one sentence>", "files": [{"path": "<repo-relative path>", "content": "<entire new file content>"}]}
Only include files that must change. Never change version numbers or CHANGELOG.md.`

// OpenAIAssistant asks a chat completion model for a patch.
type OpenAIAssistant struct {
	client *openai.Client
	model  string
}

func NewOpenAIAssistant(apiKey, model, baseURL string) *OpenAIAssistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAssistant{client: openai.NewClientWithConfig(cfg), model: model}
}

func (a *OpenAIAssistant) Suggest(ctx context.Context, req Request) (Patch, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: renderRequest(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return Patch{}, fmt.Errorf("autofix: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Patch{}, ErrNoSuggestion
	}
	return ParsePatch(resp.Choices[0].Message.Content)
}

func renderRequest(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n\nOutput:\n%s\n", req.Problem, req.Output)
	for path, content := range req.Files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", path, content)
	}
	return b.String()
}

// ParsePatch decodes a model reply, tolerating a fenced code block.
func ParsePatch(reply string) (Patch, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var p Patch
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Patch{}, fmt.Errorf("autofix: parse reply: %w", err)
	}
	if len(p.Files) == 0 {
		return Patch{}, ErrNoSuggestion
	}
	return p, nil
}
