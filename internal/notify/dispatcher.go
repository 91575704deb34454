// Package notify delivers out-of-band notifications: webhooks to
// company endpoints and email/WhatsApp messages to subjects. Delivery
// is queued and fire-and-forget; a slow or failing downstream never
// blocks or fails the protocol request that triggered it.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookEvent is the payload posted to a company's webhook URL.
type WebhookEvent struct {
	Event     string         `json:"event"`
	CompanyID string         `json:"companyId"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recipient identifies a subject to notify.
type Recipient struct {
	Email    string
	Phone    string
	Fullname string
}

// Config holds downstream endpoints. Empty endpoints disable the
// corresponding channel.
type Config struct {
	MailServiceURL     string
	WhatsAppServiceURL string
	QueueSize          int
}

type job func(ctx context.Context)

// Dispatcher runs a single worker draining a bounded queue of delivery
// jobs.
type Dispatcher struct {
	cfg    Config
	client *resty.Client
	queue  chan job
	done   chan struct{}
	once   sync.Once
}

// NewDispatcher creates a Dispatcher and starts its worker.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		cfg: cfg,
		client: resty.New().
			SetTimeout(5 * time.Second).
			SetHeader("Content-Type", "application/json"),
		queue: make(chan job, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		j(ctx)
		cancel()
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	<-d.done
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.queue <- j:
	default:
		log.Warn().Msg("notification queue full, dropping event")
	}
}

// SendWebhook posts an event to webhookURL. Non-2xx and timeouts are
// logged, not retried.
func (d *Dispatcher) SendWebhook(webhookURL string, event WebhookEvent) {
	if webhookURL == "" {
		return
	}
	d.enqueue(func(ctx context.Context) {
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeader("X-DataVault-Event", event.Event).
			SetBody(event).
			Post(webhookURL)
		if err != nil {
			log.Error().Err(err).Str("url", webhookURL).Msg("webhook delivery failed")
			return
		}
		if resp.IsError() {
			log.Error().Int("status", resp.StatusCode()).Str("url", webhookURL).Msg("webhook rejected")
			return
		}
		log.Info().Str("url", webhookURL).Str("event", event.Event).Msg("webhook delivered")
	})
}

// NotifyRevocation informs a company that one of its access tokens was
// revoked.
func (d *Dispatcher) NotifyRevocation(webhookURL, companyID, accessToken string) {
	d.SendWebhook(webhookURL, WebhookEvent{
		Event:     "authorization.revoked",
		CompanyID: companyID,
		Data:      map[string]any{"accessToken": accessToken},
		Timestamp: time.Now().UTC(),
	})
}

// NotifyAccessApproved tells the subject they approved a request.
func (d *Dispatcher) NotifyAccessApproved(user Recipient, companyName string, requestedData []string) {
	fields := strings.Join(requestedData, ", ")
	d.sendEmail(user.Email, "Data Access Request",
		fmt.Sprintf("Hi %s, you have approved %s to access: %s. Manage access at https://datavault.ng/authorize.",
			user.Fullname, companyName, fields))
	d.sendWhatsApp(user.Phone,
		fmt.Sprintf("You have approved %s to access your data: %s. Manage or review access at datavault.ng/authorize", companyName, fields))
}

// NotifyDataAccess tells the subject their data was just read.
func (d *Dispatcher) NotifyDataAccess(user Recipient, companyName string, dataAccessed []string) {
	fields := strings.Join(dataAccessed, ", ")
	d.sendEmail(user.Email, fmt.Sprintf("%s accessed your Data", companyName),
		fmt.Sprintf("Hi %s, %s has just accessed: %s. Review full details at https://datavault.ng/logs.",
			user.Fullname, companyName, fields))
	d.sendWhatsApp(user.Phone,
		fmt.Sprintf("%s just accessed your data: %s. Review your access logs at https://datavault.ng/logs.", companyName, fields))
}

func (d *Dispatcher) sendEmail(to, subject, body string) {
	if d.cfg.MailServiceURL == "" || to == "" {
		return
	}
	d.enqueue(func(ctx context.Context) {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"to": to, "subject": subject, "body": body}).
			Post(d.cfg.MailServiceURL + "/api/v1/mail")
		if err != nil || resp.IsError() {
			log.Error().Err(err).Str("to", to).Msg("email delivery failed")
			return
		}
		log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	})
}

func (d *Dispatcher) sendWhatsApp(phone, message string) {
	if d.cfg.WhatsAppServiceURL == "" || phone == "" {
		return
	}
	d.enqueue(func(ctx context.Context) {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"phone": phone, "message": message}).
			Post(d.cfg.WhatsAppServiceURL + "/api/v1/chat")
		if err != nil || resp.IsError() {
			log.Error().Err(err).Str("phone", phone).Msg("whatsapp delivery failed")
			return
		}
		log.Info().Str("phone", phone).Msg("whatsapp sent")
	})
}
