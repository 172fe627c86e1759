package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"serviceflow_backend/platform/config"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
)

// Message is a composed email ready for delivery.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// DispatchResult reports a successful hand-off to the delivery provider.
type DispatchResult struct {
	MessageID string
}

// Dispatcher delivers composed emails. Implementations are provider-specific;
// the pipeline only sees this interface.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (DispatchResult, error)
}

// NewDispatcher selects the dispatcher for the configured provider.
func NewDispatcher(cfg config.EmailConfig) (Dispatcher, error) {
	switch cfg.GetEmailProvider() {
	case "brevo":
		return &BrevoDispatcher{
			apiKey:    cfg.GetBrevoAPIKey(),
			fromName:  cfg.GetEmailFromName(),
			fromEmail: cfg.GetEmailFromAddress(),
			client:    &http.Client{Timeout: 10 * time.Second},
			endpoint:  "https://api.brevo.com/v3/smtp/email",
		}, nil
	case "smtp":
		return &SMTPDispatcher{
			host:      cfg.GetSMTPHost(),
			port:      cfg.GetSMTPPort(),
			username:  cfg.GetSMTPUsername(),
			password:  cfg.GetSMTPPassword(),
			fromName:  cfg.GetEmailFromName(),
			fromEmail: cfg.GetEmailFromAddress(),
		}, nil
	case "none":
		return NoopDispatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}

// NoopDispatcher accepts every message without delivering it. Used when no
// provider is configured, locally and in tests.
type NoopDispatcher struct{}

// Send reports success with a synthetic message id.
func (NoopDispatcher) Send(_ context.Context, _ Message) (DispatchResult, error) {
	return DispatchResult{MessageID: "noop-" + uuid.NewString()}, nil
}

// BrevoDispatcher delivers through the Brevo transactional email API.
type BrevoDispatcher struct {
	apiKey    string
	fromName  string
	fromEmail string
	client    *http.Client
	endpoint  string
}

type brevoRequest struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To []struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	} `json:"to"`
	Subject     string `json:"subject"`
	TextContent string `json:"textContent"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts the message to Brevo's transactional endpoint.
func (b *BrevoDispatcher) Send(ctx context.Context, msg Message) (DispatchResult, error) {
	payload := brevoRequest{
		Subject:     msg.Subject,
		TextContent: msg.Body,
	}
	payload.Sender.Name = b.fromName
	payload.Sender.Email = b.fromEmail
	payload.To = []struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}{{Email: msg.To, Name: msg.ToName}}

	body, err := json.Marshal(payload)
	if err != nil {
		return DispatchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{}, err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return DispatchResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return DispatchResult{}, fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed brevoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.MessageID == "" {
		// Delivery succeeded even if the provider response is odd.
		return DispatchResult{MessageID: "brevo-" + uuid.NewString()}, nil
	}
	return DispatchResult{MessageID: parsed.MessageID}, nil
}

// SMTPDispatcher delivers via a direct SMTP connection using go-mail.
type SMTPDispatcher struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// Send dials the SMTP server and delivers the message.
func (s *SMTPDispatcher) Send(ctx context.Context, msg Message) (DispatchResult, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(s.fromName, s.fromEmail); err != nil {
		return DispatchResult{}, fmt.Errorf("smtp from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return DispatchResult{}, fmt.Errorf("smtp to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	m.SetMessageID()

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return DispatchResult{}, fmt.Errorf("smtp send: %w", err)
	}

	messageID := "smtp-" + uuid.NewString()
	if ids := m.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 && ids[0] != "" {
		messageID = ids[0]
	}
	return DispatchResult{MessageID: messageID}, nil
}
