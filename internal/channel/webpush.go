package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/kazz187/taskwarden/internal/config"
	"github.com/kazz187/taskwarden/internal/pushsubscription"
)

type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// WebPushPublisher sends the message to every browser the recipient
// registered. Subscriptions the push service reports as gone are removed.
type WebPushPublisher struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	client   webpush.HTTPClient
}

func NewWebPushPublisher(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *WebPushPublisher {
	return &WebPushPublisher{vapidEnv: vapidEnv, repo: repo, client: http.DefaultClient}
}

func (p *WebPushPublisher) Publish(ctx context.Context, msg *Message) error {
	if !p.vapidEnv.Configured() {
		return nil
	}
	recipient := msg.Recipient()
	if recipient == "" {
		return nil
	}
	subs, err := p.repo.ListByUser(ctx, recipient)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	data, err := json.Marshal(&PushPayload{
		Title: msg.Subject,
		Body:  msg.Body,
		URL:   taskURL(msg.Attributes[AttrTaskID]),
		Tag:   msg.Attributes[AttrTaskID] + ":" + msg.Attributes[AttrKind],
	})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		p.send(ctx, sub, data)
	}
	return nil
}

func taskURL(taskID string) string {
	if taskID == "" {
		return ""
	}
	return "/tasks/" + taskID
}

func (p *WebPushPublisher) send(ctx context.Context, sub *pushsubscription.Subscription, data []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      p.client,
		VAPIDPublicKey:  p.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: p.vapidEnv.VAPIDPrivateKey,
		Subscriber:      p.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		slog.ErrorContext(ctx, "web push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		slog.InfoContext(ctx, "web push: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := p.repo.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "web push: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
	case resp.StatusCode >= 400:
		slog.WarnContext(ctx, "web push: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
