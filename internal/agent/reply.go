// Package agent produces the assistant's reply when hark runs without a
// backend.
package agent

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"
)

const DefaultSystemPrompt = `You are a voice assistant. The user is speaking to you hands-free and
your answer will be read out loud.
Answer in the language the user spoke. Keep it short: one to three sentences,
no markdown, no lists, no emoji.`

var ErrEmptyReply = errors.New("empty reply")

type Config struct {
	Model        string
	SystemPrompt string
	// History is how many previous exchanges are sent along; 0 sends none.
	History int
}

// Replier keeps a short rolling conversation with a chat model.
type Replier struct {
	client openai.Client
	cfg    Config

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

func NewReplier(client openai.Client, cfg Config) *Replier {
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT5Nano
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Replier{client: client, cfg: cfg}
}

func (r *Replier) Reply(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("empty transcript")
	}

	r.mu.Lock()
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(r.history)+2)
	msgs = append(msgs, openai.SystemMessage(r.cfg.SystemPrompt))
	msgs = append(msgs, r.history...)
	msgs = append(msgs, openai.UserMessage(transcript))
	r.mu.Unlock()

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    r.cfg.Model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrEmptyReply)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	log.Debug("agent replied", "model", resp.Model, "chars", len(content))

	r.remember(transcript, content)
	return content, nil
}

func (r *Replier) remember(user, assistant string) {
	if r.cfg.History <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, openai.UserMessage(user), openai.AssistantMessage(assistant))
	if over := len(r.history) - 2*r.cfg.History; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

// Forget drops the conversation history.
func (r *Replier) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}
