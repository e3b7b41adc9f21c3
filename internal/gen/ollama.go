package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	msgs := make([]ollamaMsg, 0, len(req.Window)+2)
	msgs = append(msgs, ollamaMsg{Role: "system", Content: systemPrompt(req)})
	for _, m := range req.Window {
		msgs = append(msgs, ollamaMsg{Role: m.Role, Content: m.Content})
	}
	if req.Inbound != "" {
		msgs = append(msgs, ollamaMsg{Role: "user", Content: req.Inbound})
	}

	body := ollamaChatReq{
		Model:    p.Model,
		Stream:   false,
		Messages: msgs,
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}

	reply := strings.TrimSpace(out.Message.Content)
	if reply == "" {
		return "", errors.New("ollama: empty reply")
	}
	return reply, nil
}

// systemPrompt folds the selection-time snapshot and the round position into
// the persona instructions. Awareness degrades as rounds climb.
func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are writing short, late-night direct messages to one person. ")
	b.WriteString("Stay in first person, two or three sentences, no greetings after the first message.\n")

	switch {
	case req.Round <= 0:
		b.WriteString("This is the opening contact. Be warm and a little hesitant.\n")
	case req.Round == 1:
		b.WriteString("Reply naturally and stay fully coherent.\n")
	case req.Round == 2:
		b.WriteString("Reply, but let small lapses show: a dropped word, a thought that trails off.\n")
	default:
		b.WriteString("This is the final exchange. Your awareness is fading; keep it gentle and say goodbye without naming it.\n")
	}

	if len(req.Context) > 0 {
		if snap, err := json.Marshal(req.Context); err == nil {
			b.WriteString("What you know about them, captured when you chose to write: ")
			b.Write(snap)
			b.WriteString("\n")
		}
	}
	return b.String()
}
