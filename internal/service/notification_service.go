package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/pkg/config"
	"github.com/noah-isme/gesco-api/pkg/jobs"
)

// Mailer delivers a rendered notification.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ConsoleMailer writes notifications to the log. Production deployments swap
// in an SMTP or provider-backed implementation.
type ConsoleMailer struct {
	logger *zap.Logger
}

// NewConsoleMailer constructs a log-backed mailer.
func NewConsoleMailer(logger *zap.Logger) *ConsoleMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMailer{logger: logger}
}

// Send logs the notification instead of delivering it.
func (m *ConsoleMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// NotificationService drains the commands emitted by pipeline transitions
// through the background job queue. Transitions stay pure; delivery happens
// after their transaction commits and never blocks the request.
type NotificationService struct {
	queue  *jobs.Queue
	mailer Mailer
	logger *zap.Logger
}

// NewNotificationService constructs the dispatcher and its queue.
func NewNotificationService(mailer Mailer, cfg config.OutboxConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: mailer, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues the commands produced by a transition. Failures are
// logged, never surfaced: the state change already committed.
func (s *NotificationService) Dispatch(cmds []models.Command) {
	for _, cmd := range cmds {
		job := jobs.Job{ID: uuid.NewString(), Type: string(cmd.Type), Payload: cmd}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Error("notification dropped",
				zap.String("type", string(cmd.Type)),
				zap.String("email", cmd.Email),
				zap.Error(err))
		}
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	cmd, ok := job.Payload.(models.Command)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	subject := cmd.Subject
	if subject == "" {
		subject = defaultSubject(cmd.Type)
	}
	return s.mailer.Send(ctx, cmd.Email, subject, renderBody(cmd))
}

func defaultSubject(t models.CommandType) string {
	switch t {
	case models.CommandNotifySubmitted:
		return "Votre candidature a été soumise"
	case models.CommandNotifyApproved:
		return "Votre candidature a été approuvée"
	case models.CommandNotifyRejected:
		return "Décision concernant votre candidature"
	case models.CommandNotifyPaymentOK:
		return "Confirmation de votre paiement"
	case models.CommandNotifyPaymentKO:
		return "Échec de votre paiement"
	case models.CommandNotifyActivated:
		return "Votre inscription est active"
	case models.CommandNotifyCredentials:
		return "Vos identifiants d'accès"
	default:
		return "Notification"
	}
}

func renderBody(cmd models.Command) string {
	body := defaultSubject(cmd.Type) + "."
	for k, v := range cmd.Payload {
		body += fmt.Sprintf("\n%s: %v", k, v)
	}
	return body
}
