package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const errorBodyLimit = 1 << 10

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body and returns the response payload for 2xx replies.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := payload
		if len(snippet) > errorBodyLimit {
			snippet = snippet[:errorBodyLimit]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return payload, nil
}

func render(msg Message) string {
	var parts []string
	if msg.Title != "" {
		parts = append(parts, msg.Title)
	}
	if msg.Body != "" {
		parts = append(parts, msg.Body)
	}
	if msg.Fallback {
		parts = append(parts, fmt.Sprintf("(sent here because %s delivery failed)", msg.FallbackFrom))
	}
	return strings.Join(parts, "\n\n")
}

// HTTPEmailProvider posts messages to a transactional email relay.
type HTTPEmailProvider struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

func NewHTTPEmailProvider(endpoint, apiKey, from string, timeout time.Duration) *HTTPEmailProvider {
	return &HTTPEmailProvider{endpoint: endpoint, apiKey: apiKey, from: from, client: newHTTPClient(timeout)}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (p *HTTPEmailProvider) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Email == "" {
		return ErrNoRecipient
	}
	subject := msg.Title
	if msg.Fallback {
		subject = "[fallback] " + subject
	}
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	_, err := postJSON(ctx, p.client, p.endpoint, headers, emailRequest{
		From:    p.from,
		To:      to.Email,
		Subject: subject,
		Text:    render(Message{Body: msg.Body, Fallback: msg.Fallback, FallbackFrom: msg.FallbackFrom}),
	})
	if err != nil {
		return fmt.Errorf("email relay: %w", err)
	}
	return nil
}

// TelegramProvider sends chat messages through the Bot API.
type TelegramProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewTelegramProvider(baseURL, token string, timeout time.Duration) *TelegramProvider {
	return &TelegramProvider{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: newHTTPClient(timeout)}
}

type telegramRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (p *TelegramProvider) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Telegram == "" {
		return ErrNoRecipient
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
	payload, err := postJSON(ctx, p.client, url, nil, telegramRequest{ChatID: to.Telegram, Text: render(msg)})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	var resp telegramResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram: %s", resp.Description)
	}
	return nil
}

// FarcasterProvider publishes a cast mentioning the user through Neynar.
type FarcasterProvider struct {
	baseURL    string
	apiKey     string
	signerUUID string
	client     *http.Client
}

func NewFarcasterProvider(baseURL, apiKey, signerUUID string, timeout time.Duration) *FarcasterProvider {
	return &FarcasterProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		signerUUID: signerUUID,
		client:     newHTTPClient(timeout),
	}
}

type castRequest struct {
	SignerUUID string `json:"signer_uuid"`
	Text       string `json:"text"`
}

func (p *FarcasterProvider) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Farcaster == "" {
		return ErrNoRecipient
	}
	handle := "@" + strings.TrimPrefix(to.Farcaster, "@")
	_, err := postJSON(ctx, p.client, p.baseURL+"/v2/farcaster/cast",
		map[string]string{"x-api-key": p.apiKey},
		castRequest{SignerUUID: p.signerUUID, Text: handle + " " + render(msg)})
	if err != nil {
		return fmt.Errorf("farcaster: %w", err)
	}
	return nil
}
