package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Chat is one conversation with its own context. An agent can hold several
// chats at once; each keeps a separate repository context on the peer side.
type Chat struct {
	id          string
	agent       *Agent
	repoContext []string
}

func (c *Chat) ID() string { return c.id }

// NewChat opens a fresh conversation.
func (a *Agent) NewChat(ctx context.Context) (*Chat, error) {
	var id string
	if err := a.call(ctx, "chat/new", nil, &id); err != nil {
		return nil, err
	}
	return &Chat{id: id, agent: a}, nil
}

// RestoreChat rebuilds a conversation from an existing message stack under a
// freshly generated panel id.
func (a *Agent) RestoreChat(ctx context.Context, messages []ChatMessage) (*Chat, error) {
	params := map[string]any{
		"messages": messages,
		"chatID":   uuid.NewString(),
	}
	var id string
	if err := a.call(ctx, "chat/restore", params, &id); err != nil {
		return nil, err
	}
	return &Chat{id: id, agent: a}, nil
}

type chatCommand struct {
	ID      string `json:"id"`
	Message any    `json:"message"`
}

type submitMessage struct {
	Command            string        `json:"command"`
	Text               string        `json:"text"`
	SubmitType         string        `json:"submitType"`
	AddEnhancedContext bool          `json:"addEnhancedContext"`
	ContextFiles       []ContextFile `json:"contextFiles"`
}

// Ask sends one human message and blocks until the agent finishes the
// answer. Progress notifications stream past on the transport's side channel
// while this waits; the returned transcript is the complete conversation.
func (c *Chat) Ask(ctx context.Context, text string, enhancedContext bool) (Transcript, error) {
	params := chatCommand{
		ID: c.id,
		Message: submitMessage{
			Command:            "submit",
			Text:               text,
			SubmitType:         "user",
			AddEnhancedContext: enhancedContext,
			ContextFiles:       []ContextFile{},
		},
	}
	var transcript Transcript
	if err := c.agent.call(ctx, "chat/submitMessage", params, &transcript); err != nil {
		return Transcript{}, err
	}
	return transcript, nil
}

// Answer is Ask reduced to the assistant's reply text.
func (c *Chat) Answer(ctx context.Context, text string, enhancedContext bool) (string, error) {
	transcript, err := c.Ask(ctx, text, enhancedContext)
	if err != nil {
		return "", err
	}
	answer, ok := transcript.LastAnswer()
	if !ok {
		return "", ErrNoAnswer
	}
	return answer, nil
}

// SetModel selects the LLM serving this chat.
func (c *Chat) SetModel(ctx context.Context, model string) error {
	params := chatCommand{
		ID:      c.id,
		Message: map[string]any{"command": "chatModel", "model": model},
	}
	return c.agent.call(ctx, "webview/receiveMessage", params, nil)
}

// SetContextRepos pins the repositories whose files the agent should consider
// when answering. A no-op when the context is unchanged.
func (c *Chat) SetContextRepos(ctx context.Context, names []string) error {
	if sameStrings(c.repoContext, names) {
		return nil
	}
	repos, err := c.agent.LookupRepoIDs(ctx, names)
	if err != nil {
		return fmt.Errorf("agent: resolve context repos: %w", err)
	}
	params := chatCommand{
		ID: c.id,
		Message: map[string]any{
			"command":       "context/choose-remote-search-repo",
			"explicitRepos": repos,
		},
	}
	if err := c.agent.call(ctx, "webview/receiveMessage", params, nil); err != nil {
		return err
	}
	c.repoContext = append([]string(nil), names...)
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
