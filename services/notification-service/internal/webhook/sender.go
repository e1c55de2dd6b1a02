// Package webhook posts messages to a provider gateway over HTTP. The same
// sender backs sms, whatsapp and push; only the configured endpoint differs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/dispatch"
)

type Sender struct {
	name  string
	url   string
	token string
	http  *http.Client
}

func NewSender(name, url, token string) *Sender {
	return &Sender{
		name:  name,
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	if s.url == "" {
		return fmt.Errorf("%s webhook url not configured", s.name)
	}
	payload := map[string]any{
		"to":       msg.Recipient,
		"subject":  msg.Subject,
		"body":     msg.Body,
		"metadata": msg.Metadata,
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
		return errors.New(s.name + " webhook returned non-2xx")
	}
	return nil
}
