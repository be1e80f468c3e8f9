package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/metrics"
	"github.com/vipogroup/vipo_backend/models"
	"go.uber.org/multierr"
	"gopkg.in/gomail.v2"
)

// ErrChannelSkipped means the channel had nothing to deliver to, e.g. a user
// without a push token.
var ErrChannelSkipped = errors.New("channel skipped")

// DefaultTemplates are used when no override exists in notificationTemplates.
var DefaultTemplates = map[string]models.NotificationTemplate{
	models.TemplateWithdrawalApproved: {
		Type:     models.TemplateWithdrawalApproved,
		Audience: []string{models.RoleAgent},
		Title:    "בקשת המשיכה שלך אושרה",
		Body:     "בקשת המשיכה שלך על סך {{amount}} ₪ אושרה ונמצאת בטיפול. ההעברה תבוצע בהקדם.",
	},
	models.TemplateWithdrawalCompleted: {
		Type:     models.TemplateWithdrawalCompleted,
		Audience: []string{models.RoleAgent},
		Title:    "ההעברה בוצעה בהצלחה!",
		Body:     "העברת הכספים על סך {{amount}} ₪ בוצעה בהצלחה לפי פרטי התשלום שסיפקת. תודה שאתה חלק מ-vipogroup!",
	},
	models.TemplateWithdrawalRejected: {
		Type:     models.TemplateWithdrawalRejected,
		Audience: []string{models.RoleAgent},
		Title:    "בקשת המשיכה נדחתה",
		Body:     "בקשת המשיכה שלך על סך {{amount}} ₪ נדחתה. סיבה: {{reason}}. ניתן להגיש בקשה חדשה עם פרטים מעודכנים.",
	},
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes {{name}} placeholders. Unknown names render empty.
func RenderTemplate(text string, variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return variables[name]
	})
}

// Message is a rendered notification for one recipient.
type Message struct {
	Type         string
	Title        string
	Body         string
	WithdrawalID string
}

// Channel delivers a rendered message to a user over one medium.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, user *models.User, msg Message) error
}

// NotificationService renders templated events and fans them out to the
// configured channels. The in-app record is mandatory; other channels are
// best effort.
type NotificationService struct {
	store    NotificationStore
	users    UserStore
	channels []Channel
	metrics  *metrics.SettlementMetrics
}

func NewNotificationService(store NotificationStore, users UserStore, m *metrics.SettlementMetrics, channels ...Channel) *NotificationService {
	return &NotificationService{
		store:    store,
		users:    users,
		channels: channels,
		metrics:  m,
	}
}

// Deliver sends event to its audience. It fails only when the template is
// unknown or no recipient's in-app record could be written; such events are
// retried.
func (s *NotificationService) Deliver(ctx context.Context, event models.NotificationEvent) error {
	tmpl, err := s.resolveTemplate(ctx, event.TemplateType)
	if err != nil {
		return err
	}
	if !tmpl.IsEnabled() {
		log.Ctx(ctx).Debug().Str("template", event.TemplateType).Msg("template disabled, skipping notification")
		return nil
	}

	msg := Message{
		Type:  event.TemplateType,
		Title: RenderTemplate(tmpl.Title, event.Variables),
		Body:  RenderTemplate(tmpl.Body, event.Variables),
	}
	if event.WithdrawalID != nil {
		msg.WithdrawalID = event.WithdrawalID.Hex()
	}

	users, err := s.users.FindByIDs(ctx, event.AudienceUserIDs)
	if err != nil {
		return fmt.Errorf("loading audience: %w", err)
	}

	var (
		required, optional error
		written            int
	)
	for _, id := range event.AudienceUserIDs {
		user, ok := users[id]
		if !ok {
			log.Ctx(ctx).Warn().Str("userId", id.Hex()).Msg("notification recipient not found")
			continue
		}

		err := s.saveInApp(ctx, user, msg)
		s.metrics.ObserveDelivery("in_app", err)
		if err != nil {
			required = multierr.Append(required, fmt.Errorf("in-app notification for %s: %w", id.Hex(), err))
			continue
		}
		written++

		for _, ch := range s.channels {
			err := ch.Deliver(ctx, user, msg)
			if errors.Is(err, ErrChannelSkipped) {
				continue
			}
			s.metrics.ObserveDelivery(ch.Name(), err)
			if err != nil {
				optional = multierr.Append(optional, fmt.Errorf("%s: %w", ch.Name(), err))
			}
		}
	}

	if optional != nil {
		log.Ctx(ctx).Warn().
			Err(optional).
			Int("failures", len(multierr.Errors(optional))).
			Str("template", event.TemplateType).
			Msg("some notification channels failed")
	}
	// A retry would duplicate the records already written, so the event is
	// only failed when no recipient got one.
	if required != nil && written > 0 {
		log.Ctx(ctx).Error().
			Err(required).
			Int("written", written).
			Str("template", event.TemplateType).
			Msg("in-app notification failed for some recipients")
		return nil
	}
	return required
}

func (s *NotificationService) resolveTemplate(ctx context.Context, templateType string) (*models.NotificationTemplate, error) {
	override, err := s.store.FindTemplate(ctx, templateType)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", templateType, err)
	}
	if override != nil {
		return override, nil
	}
	if tmpl, ok := DefaultTemplates[templateType]; ok {
		return &tmpl, nil
	}
	return nil, fmt.Errorf("unknown notification template %q", templateType)
}

func (s *NotificationService) saveInApp(ctx context.Context, user *models.User, msg Message) error {
	data := map[string]string{}
	if msg.WithdrawalID != "" {
		data["withdrawalId"] = msg.WithdrawalID
	}
	return s.store.Save(ctx, &models.Notification{
		UserID:    user.ID,
		Title:     msg.Title,
		Message:   msg.Body,
		Type:      msg.Type,
		Data:      data,
		IsRead:    false,
		CreatedAt: time.Now(),
	})
}

// PushSender is satisfied by *messaging.Client.
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type PushChannel struct {
	sender PushSender
}

func NewPushChannel(sender PushSender) *PushChannel {
	return &PushChannel{sender: sender}
}

func (c *PushChannel) Name() string { return "push" }

func (c *PushChannel) Deliver(ctx context.Context, user *models.User, msg Message) error {
	if user.FCMToken == "" {
		return ErrChannelSkipped
	}

	badge := 1
	fcmMessage := &messaging.Message{
		Token: user.FCMToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: map[string]string{
			"type":         msg.Type,
			"withdrawalId": msg.WithdrawalID,
			"timestamp":    time.Now().Format(time.RFC3339),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "vipo_fcm_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: msg.Title,
						Body:  msg.Body,
					},
					Sound:    "default",
					Badge:    &badge,
					Category: "WITHDRAWAL_UPDATE",
				},
			},
		},
	}

	response, err := c.sender.Send(ctx, fcmMessage)
	if err != nil {
		return fmt.Errorf("failed to send FCM notification: %w", err)
	}
	log.Ctx(ctx).Debug().Str("userId", user.ID.Hex()).Str("response", response).Msg("FCM notification sent")
	return nil
}

// MailSender is satisfied by *gomail.Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailChannel struct {
	sender MailSender
	from   string
}

func NewEmailChannel(cfg config.SMTPConfig) *EmailChannel {
	return &EmailChannel{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		from:   cfg.Sender(),
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, user *models.User, msg Message) error {
	if user.Email == "" {
		return ErrChannelSkipped
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", msg.Title)
	m.SetBody("text/plain", msg.Body)

	return c.sender.DialAndSend(m)
}

// RealtimeChannel pushes the message to an open websocket of the user.
type RealtimeChannel struct {
	publisher RealtimePublisher
}

func NewRealtimeChannel(publisher RealtimePublisher) *RealtimeChannel {
	return &RealtimeChannel{publisher: publisher}
}

func (c *RealtimeChannel) Name() string { return "websocket" }

func (c *RealtimeChannel) Deliver(ctx context.Context, user *models.User, msg Message) error {
	err := c.publisher.Publish(user.ID, "notification", msg.Title, map[string]string{
		"type":         msg.Type,
		"body":         msg.Body,
		"withdrawalId": msg.WithdrawalID,
	})
	if err != nil {
		// Offline users read the in-app record instead.
		return ErrChannelSkipped
	}
	return nil
}
