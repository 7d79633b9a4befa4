// Package ai holds the two model-call gateways of the triage pipeline:
// message classification and reply drafting. Both go through one
// OpenAI-compatible chat-completions endpoint with schema-constrained
// responses.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inboxzen/mailtriage/internal/model"
)

const defaultTimeout = 10 * time.Second

// Gateway is the chat-completions client shared by both gateways.
type Gateway struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// New creates a gateway against an OpenAI-compatible endpoint. baseURL is
// the API root without the /chat/completions suffix.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// classifySchema constrains the model to exactly one known category.
func classifySchema() json.RawMessage {
	quoted := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		quoted[i] = fmt.Sprintf("%q", string(c))
	}
	schema := fmt.Sprintf(`{
		"name": "triage_category",
		"strict": true,
		"schema": {
			"type": "object",
			"properties": {
				"category": {"type": "string", "enum": [%s]}
			},
			"required": ["category"],
			"additionalProperties": false
		}
	}`, strings.Join(quoted, ", "))
	return json.RawMessage(schema)
}

var replySchema = json.RawMessage(`{
	"name": "email_reply",
	"strict": true,
	"schema": {
		"type": "object",
		"properties": {
			"reply": {"type": "string"}
		},
		"required": ["reply"],
		"additionalProperties": false
	}
}`)

const classifySystemPrompt = `You are an email triage assistant. Classify the email into exactly one category:
- "To respond": emails that need a direct reply from the recipient
- "Fyi": informational emails that need no action
- "Comment": comments on documents or threads the recipient follows
- "Notification": automated notifications from services and tools
- "Meeting Update": meeting invitations, changes and cancellations
- "Actioned": confirmations of actions already completed
- "Marketing": promotional and marketing content`

// Classify returns the triage category for a message. Any deviation from
// the contract fails closed: an unknown label, malformed JSON or a
// timeout all yield an error and the message stays unprocessed.
func (g *Gateway) Classify(ctx context.Context, subject, body string) (model.Category, error) {
	userPrompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, body)

	content, err := g.complete(ctx, classifySystemPrompt, userPrompt, classifySchema())
	if err != nil {
		return "", fmt.Errorf("classifying message: %w", err)
	}

	var out struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", fmt.Errorf("decoding classification %q: %w", content, err)
	}
	category, ok := model.ParseCategory(out.Category)
	if !ok {
		return "", fmt.Errorf("unknown category %q", out.Category)
	}
	return category, nil
}

// ReplyRequest carries everything the drafting prompt needs.
type ReplyRequest struct {
	// Receiver is the display name of the mailbox owner the reply is
	// written on behalf of.
	Receiver string
	// SenderName is who the reply addresses.
	SenderName string
	Subject    string
	Body       string
}

// ComposeReply drafts a reply body for the given message. The returned
// text is stored verbatim as the draft.
func (g *Gateway) ComposeReply(ctx context.Context, req ReplyRequest) (string, error) {
	system := fmt.Sprintf(
		"You are the email assistant of %s. Write a concise, polite reply to the email below, addressed to %s. Return only the reply body.",
		req.Receiver, req.SenderName)
	userPrompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", req.Subject, req.Body)

	content, err := g.complete(ctx, system, userPrompt, replySchema)
	if err != nil {
		return "", fmt.Errorf("composing reply: %w", err)
	}

	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", fmt.Errorf("decoding reply %q: %w", content, err)
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return out.Reply, nil
}

// complete performs one chat-completions call under the gateway timeout
// and returns the first choice's content.
func (g *Gateway) complete(ctx context.Context, system, user string, schema json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: schema,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling model API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// --- chat-completions API types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
