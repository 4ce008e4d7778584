package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultGreenAPIBaseURL is the Green API endpoint.
const DefaultGreenAPIBaseURL = "https://api.green-api.com"

// greenSendTimeout bounds one send request.
const greenSendTimeout = 30 * time.Second

// GreenAPIService implements Service over the Green API HTTP gateway.
// Inbound messages arrive through the webhook endpoint, not this service.
type GreenAPIService struct {
	idInstance string
	apiToken   string
	baseURL    string
	client     *http.Client
}

// GreenAPIOpts holds configuration options for the Green API service.
type GreenAPIOpts struct {
	IDInstance string
	APIToken   string
	BaseURL    string
}

// GreenAPIOption defines a configuration option for the Green API service.
type GreenAPIOption func(*GreenAPIOpts)

// WithIDInstance sets the Green API instance ID.
func WithIDInstance(id string) GreenAPIOption {
	return func(o *GreenAPIOpts) { o.IDInstance = id }
}

// WithAPIToken sets the Green API instance token.
func WithAPIToken(token string) GreenAPIOption {
	return func(o *GreenAPIOpts) { o.APIToken = token }
}

// WithBaseURL overrides the Green API endpoint.
func WithBaseURL(url string) GreenAPIOption {
	return func(o *GreenAPIOpts) { o.BaseURL = url }
}

// NewGreenAPIService creates a Green API backed messaging service.
func NewGreenAPIService(opts ...GreenAPIOption) *GreenAPIService {
	cfg := GreenAPIOpts{BaseURL: DefaultGreenAPIBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GreenAPIService{
		idInstance: cfg.IDInstance,
		apiToken:   cfg.APIToken,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: greenSendTimeout},
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *GreenAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start verifies that credentials are configured. The service refuses to
// start half-configured rather than failing on the first send.
func (s *GreenAPIService) Start(ctx context.Context) error {
	if s.idInstance == "" || s.apiToken == "" {
		return fmt.Errorf("green API credentials not configured (set GREEN_ID_INSTANCE and GREEN_API_TOKEN)")
	}
	slog.Info("GreenAPIService.Start: service ready", "idInstance", s.idInstance)
	return nil
}

// Stop is a no-op; the service holds no live connection.
func (s *GreenAPIService) Stop() error {
	return nil
}

// SendMessage delivers a text message through the Green API gateway.
func (s *GreenAPIService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("GreenAPIService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"chatId":  canonical + "@c.us",
		"message": body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode send payload: %w", err)
	}

	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", s.baseURL, s.idInstance, s.apiToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("GreenAPIService.SendMessage: request failed", "error", err, "to", canonical)
		return fmt.Errorf("green API send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("GreenAPIService.SendMessage: API error", "status", resp.StatusCode, "to", canonical, "response", string(respBody))
		return fmt.Errorf("green API send returned status %d", resp.StatusCode)
	}

	slog.Info("GreenAPIService.SendMessage: message sent", "to", canonical, "bodyLength", len(body))
	return nil
}

var _ Service = (*GreenAPIService)(nil)
