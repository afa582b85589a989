package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suryadarma/ingat/internal/config"
)

const (
	classifyPrompt = `You are a message triage engine for a group chat assistant.
Decide whether the assistant should respond to the message batch below.

Rules:
1. "pass" when the batch contains a question, a problem, a request, a scheduling need, or anything that deserves attention
2. "ignore" only for pure small talk with no actionable content
3. confidence must be in [0.0, 1.0]
4. reason must be one short sentence

Return strict JSON object: {"action":"pass","confidence":0.8,"reason":"..."}

Messages:
%s`

	hourlyPrompt = `Summarize this trailing hour of chat into a compact note.
Keep the summary under 4 sentences. Only list decisions and action items that
were explicitly stated.

Return strict JSON object:
{"summary":"...","decisions":["..."],"action_items":["..."]}

Transcript:
%s`

	dailyPrompt = `Summarize the last 24 hours of chat into a daily digest.
Capture projects discussed, decisions made, blockers raised, and any
financial mentions (amounts, budgets, payments).

Return strict JSON object:
{"summary":"...","projects":["..."],"decisions":["..."],"blockers":["..."],"financial_mentions":["..."]}

Transcript:
%s`

	knowledgePrompt = `You maintain a long-lived knowledge base built from daily chat activity.
Reconcile yesterday's messages against the existing entries and propose a
bounded set of mutations.

Rules:
1. Each action is either NEW (a genuinely new topic) or MERGE (append to an existing entry)
2. Propose at most 3 NEW actions
3. MERGE must reference an existing entry_id and carry additional_content; never rewrite existing text
4. Never propose UPDATE or DELETE actions

Return strict JSON object:
{"actions":[{"type":"NEW","date":"2006-01-02","topic":"...","content":"...","tags":["..."]},{"type":"MERGE","entry_id":1,"additional_content":"...","tags":["..."]}]}

Existing knowledge base:
%s

Yesterday's messages:
%s`
)

type client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient builds the oracle from config. The oracle provider falls
// back to the main agent provider when not set separately.
func NewClient(cfg *config.Config) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	if cfg.Oracle.Provider != nil {
		c.apiKey = cfg.Oracle.Provider.APIKey
		c.baseURL = cfg.Oracle.Provider.BaseURL
	}
	if c.apiKey == "" {
		c.apiKey = cfg.Provider.APIKey
	}
	if c.baseURL == "" {
		c.baseURL = cfg.Provider.BaseURL
	}
	if cfg.Oracle.Model != "" {
		c.model = cfg.Oracle.Model
	} else {
		c.model = cfg.Agent.Model
	}
	if cfg.Oracle.MaxTokens > 0 {
		c.maxTokens = cfg.Oracle.MaxTokens
	} else {
		c.maxTokens = cfg.Agent.MaxTokens
	}

	return c
}

func (c *client) Classify(ctx context.Context, text string) (*Classification, error) {
	resp, err := c.complete(ctx, fmt.Sprintf(classifyPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	out, err := decodeStrict[Classification](resp)
	if err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(out.Action))
	if action != "pass" && action != "ignore" {
		return nil, &ParseError{Raw: resp, Err: fmt.Errorf("unknown action %q", out.Action)}
	}
	out.Action = action
	return out, nil
}

func (c *client) CompileHourly(ctx context.Context, transcript string) (*HourlySummary, error) {
	resp, err := c.complete(ctx, fmt.Sprintf(hourlyPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("compile hourly: %w", err)
	}
	return decodeStrict[HourlySummary](resp)
}

func (c *client) CompileDaily(ctx context.Context, transcript string) (*DailySummary, error) {
	resp, err := c.complete(ctx, fmt.Sprintf(dailyPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("compile daily: %w", err)
	}
	return decodeStrict[DailySummary](resp)
}

func (c *client) PlanKnowledge(ctx context.Context, transcript, knowledgeBase string) (*KnowledgePlan, error) {
	resp, err := c.complete(ctx, fmt.Sprintf(knowledgePrompt, knowledgeBase, transcript))
	if err != nil {
		return nil, fmt.Errorf("plan knowledge: %w", err)
	}
	return decodeStrict[KnowledgePlan](resp)
}

func (c *client) complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing oracle api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing oracle base url")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing oracle model")
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.2,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("oracle http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}
