package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Contact is the CRM-side representation of an email correspondent
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Source  string `json:"source"`
}

// SyncRequest upserts a contact together with the email that produced it
type SyncRequest struct {
	Contact      Contact `json:"contact"`
	EmailContent string  `json:"emailContent,omitempty"`
}

// SyncResult reports what the CRM did with the contact
type SyncResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

// Service is the CRM collaborator contract
type Service interface {
	HasConnectedProvider(ctx context.Context) bool
	SyncContact(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// Client talks to the CRM bridge over HTTP
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a CRM client. An empty base URL means no CRM is
// provisioned; HasConnectedProvider then reports false without network
// calls.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// HasConnectedProvider asks the CRM whether any provider is linked.
// Transport failures report false; sync passes skip CRM work rather than
// fail on it.
func (c *Client) HasConnectedProvider(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}

	url := fmt.Sprintf("%s/api/v1/providers/status", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Connected bool `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.Connected
}

// SyncContact upserts the contact in the CRM
func (c *Client) SyncContact(ctx context.Context, syncReq SyncRequest) (SyncResult, error) {
	if c.baseURL == "" {
		return SyncResult{}, fmt.Errorf("no CRM configured")
	}
	if syncReq.Contact.Email == "" {
		return SyncResult{}, fmt.Errorf("contact email is required")
	}

	body, err := json.Marshal(syncReq)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to marshal contact: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/contacts/sync", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return SyncResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return SyncResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SyncResult{}, fmt.Errorf("no CRM provider connected")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return SyncResult{}, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(respBody))
	}

	var result SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SyncResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
