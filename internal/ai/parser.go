package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Recognized intent values. Anything else the model invents is carried
// through verbatim and simply never qualifies for auto-scheduling.
const (
	IntentScheduleMeeting = "schedule_meeting"
	IntentFollowUp        = "follow_up"
	IntentInformation     = "information"
)

// ParsedData is the structured extraction for a single email body
type ParsedData struct {
	Intent       string   `json:"intent"`
	ContactName  string   `json:"contact_name"`
	Email        string   `json:"email"`
	Company      string   `json:"company"`
	Datetime     string   `json:"datetime"`
	Participants []string `json:"participants"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
}

// Result wraps a parse outcome. Success false means "nothing actionable
// extracted", which callers treat as a non-event, not a failure.
type Result struct {
	Success bool
	Data    *ParsedData
}

// Parser extracts meeting intent from an email body
type Parser interface {
	ParseEmail(ctx context.Context, bodyText string) (Result, error)
}

// New selects the parsing strategy at construction: the hosted model when
// an API key is provisioned, a keyword heuristic otherwise.
func New(endpoint, apiKey, model string) Parser {
	if apiKey == "" {
		log.Printf("ai: no API key configured, using heuristic parser")
		return NewHeuristic()
	}
	return NewClient(endpoint, apiKey, model)
}

// datetimeFormats are tried in order when interpreting the model's
// datetime output.
var datetimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParsedTime interprets the extracted datetime string. Relative phrases
// the model occasionally emits are resolved against now.
func (d *ParsedData) ParsedTime(now time.Time) (time.Time, bool) {
	if d == nil || d.Datetime == "" {
		return time.Time{}, false
	}

	for _, format := range datetimeFormats {
		if t, err := time.Parse(format, d.Datetime); err == nil {
			return t, true
		}
	}

	switch lower := strings.ToLower(strings.TrimSpace(d.Datetime)); {
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(lower, "next week"):
		return now.AddDate(0, 0, 7), true
	}

	return time.Time{}, false
}

// Client calls a hosted generative model over HTTP
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

// NewClient creates a model-backed parser. Calls run through a circuit
// breaker so a degraded model endpoint cannot stall every sync pass.
func NewClient(endpoint, apiKey, model string) *Client {
	settings := gobreaker.Settings{
		Name:    "ai-parser",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("ai: circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
		cb:       gobreaker.NewCircuitBreaker(settings),
	}
}

const parsePrompt = `You are an email analysis assistant. Analyze the email below and extract meeting intent.

Return ONLY a JSON object with these fields:
- intent: one of "schedule_meeting", "follow_up", "information"
- contact_name: sender or main contact name, "" if unknown
- email: contact email address, "" if unknown
- company: contact company, "" if unknown
- datetime: proposed meeting time in ISO 8601 (e.g. 2025-01-21T14:00:00), "" if none
- participants: array of participant names mentioned
- confidence: number 0..1, your certainty that the intent and datetime are correct
- reasoning: one short sentence

Use "schedule_meeting" only when the email actually proposes meeting at a time.
Return ONLY the JSON object, no other text.

EMAIL:
%s

JSON:`

// ParseEmail asks the model for a structured extraction
func (c *Client) ParseEmail(ctx context.Context, bodyText string) (Result, error) {
	prompt := fmt.Sprintf(parsePrompt, bodyText)

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.generate(ctx, prompt)
	})
	if err != nil {
		return Result{}, err
	}

	text := extractJSON(out.(string))
	if text == "" {
		return Result{}, fmt.Errorf("no JSON object in model response")
	}

	var data ParsedData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return Result{}, fmt.Errorf("failed to parse model JSON: %w", err)
	}

	if data.Confidence < 0 {
		data.Confidence = 0
	}
	if data.Confidence > 1 {
		data.Confidence = 1
	}

	if data.Intent == "" {
		return Result{Success: false}, nil
	}
	return Result{Success: true, Data: &data}, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature": 0.2,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// extractJSON pulls the first JSON object out of model output that may be
// wrapped in markdown fences or prose
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
