package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"subwatch/internal/notifications"
	"subwatch/internal/types"
)

const defaultSendGridURL = "https://api.sendgrid.com"

// SendGridConfig configures SendGridTransport.
type SendGridConfig struct {
	APIKey      types.SecretString
	BaseURL     string
	FromAddress string
	FromName    string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// SendGridTransport delivers plain-text notification emails through the
// SendGrid v3 mail/send endpoint.
type SendGridTransport struct {
	base    *BaseClient
	cfg     SendGridConfig
	baseURL string
	logger  *slog.Logger
}

func NewSendGridTransport(cfg SendGridConfig, opts ...BaseClientOption) *SendGridTransport {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSendGridURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		&http.Client{Timeout: timeout},
		"sendgrid",
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		"subwatch-notifier/1.0",
		opts...,
	)

	return &SendGridTransport{
		base:    base,
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMailRequest struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

type sgErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Send implements notifications.Transport.
func (t *SendGridTransport) Send(ctx context.Context, to, subject, body string) error {
	payload := sgMailRequest{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: t.cfg.FromAddress, Name: t.cfg.FromName},
		Subject:          subject,
		Content:          []sgContent{{Type: "text/plain", Value: body}},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode sendgrid request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v3/mail/send", bytes.NewReader(raw))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build sendgrid request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey.Unmask())
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.base.Do(req)
	if err != nil {
		return wrapSendGridError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.logger.DebugContext(ctx, "email accepted by sendgrid",
			"message_id", resp.Header.Get("X-Message-Id"),
			"recipient", notifications.RedactEmail(to),
		)
		return nil
	}

	return t.errorFromResponse(ctx, resp)
}

func (t *SendGridTransport) errorFromResponse(ctx context.Context, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	detail := strings.TrimSpace(string(body))
	var parsed sgErrorResponse
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		detail = strings.Join(msgs, "; ")
	}

	t.logger.WarnContext(ctx, "sendgrid rejected email",
		"status", resp.StatusCode,
		"detail", detail,
	)

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeEmailBlocked, "sendgrid refused delivery: "+detail, nil)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("sendgrid returned %d: %s", resp.StatusCode, detail), nil)
}

// wrapSendGridError keeps rate-limit and breaker codes from BaseClient and
// relabels generic upstream failures as email-provider failures.
func wrapSendGridError(err error) error {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "sendgrid request failed", err)
	}
	if appErr.Code == types.ErrCodeUpstreamUnavailable {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, appErr.Message, appErr.Err)
	}
	return appErr
}
