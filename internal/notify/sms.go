package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Sender delivers patient-facing texts. Matches the scheduling engine's
// notifier surface.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
}

// WebhookSender posts confirmation texts to an SMS relay webhook. Recipient
// numbers are normalized to E.164 first; patients dictate numbers in every
// imaginable format.
type WebhookSender struct {
	url           string
	token         string
	countryPrefix string
	http          *http.Client
}

func NewWebhookSender(url, token, countryPrefix string) *WebhookSender {
	if countryPrefix == "" {
		countryPrefix = "+91"
	}
	return &WebhookSender{
		url:           strings.TrimSpace(url),
		token:         strings.TrimSpace(token),
		countryPrefix: countryPrefix,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	payload := map[string]string{
		"to":   NormalizeNumber(to, s.countryPrefix),
		"body": body,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("sms webhook returned non-2xx")
	}
	return nil
}

// NormalizeNumber strips separators and ensures a country prefix:
// "98765 43210" becomes "+919876543210" with the default "+91" prefix.
func NormalizeNumber(number, countryPrefix string) string {
	clean := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(number)
	if strings.HasPrefix(clean, "+") {
		return clean
	}
	bare := strings.TrimPrefix(countryPrefix, "+")
	if strings.HasPrefix(clean, bare) && len(clean) == len(bare)+10 {
		return "+" + clean
	}
	return countryPrefix + clean
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
