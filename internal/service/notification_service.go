package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/salesgrid/platform/internal/config"
	"github.com/salesgrid/platform/internal/events"
)

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSMSSender writes messages to the log instead of an SMS gateway.
type LogSMSSender struct {
	logger *zap.Logger
}

// NewLogSMSSender builds the development sender.
func NewLogSMSSender(logger *zap.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger}
}

// Send logs the message body at debug level only, since it carries the code.
func (s *LogSMSSender) Send(_ context.Context, phone, message string) error {
	s.logger.Info("sms sent", zap.String("phone", maskPhone(phone)))
	s.logger.Debug("sms body", zap.String("phone", maskPhone(phone)), zap.String("message", message))
	return nil
}

// NewSMSSender selects the sender named in configuration.
func NewSMSSender(cfg config.SMSConfig, logger *zap.Logger) (SMSSender, error) {
	switch cfg.Sender {
	case "", "log":
		return NewLogSMSSender(logger), nil
	default:
		return nil, fmt.Errorf("unsupported SMS_SENDER %q", cfg.Sender)
	}
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	sms        SMSSender
	logger     *zap.Logger
	signName   string
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, sms SMSSender, logger *zap.Logger, cfg config.SMSConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		sms:        sms,
		logger:     logger,
		signName:   cfg.SignName,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventVerificationCodeIssued, n.handleVerificationCodeIssued)
	n.dispatcher.Subscribe(events.EventUserRegistered, n.logEvent)
	n.dispatcher.Subscribe(events.EventInvitationRedeemed, n.logEvent)
	n.dispatcher.Subscribe(events.EventSubordinateCreated, n.logEvent)
}

func (n *NotificationService) handleVerificationCodeIssued(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.VerificationCodeIssuedPayload)
	if !ok {
		return errors.New("unexpected verification code payload")
	}
	message := fmt.Sprintf("[%s] Your verification code is %s. It expires at %s UTC.",
		n.signName, payload.Code, payload.ExpiresAt.UTC().Format("15:04"))
	return n.sms.Send(ctx, payload.Phone, message)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("subject_id", event.SubjectID),
		zap.Any("payload", event.Payload))
	return nil
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return "****"
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
