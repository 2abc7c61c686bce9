package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, payload *AlertPayload) error {
	fields := logrus.Fields{
		"kind":     payload.Kind,
		"severity": payload.Severity,
		"subject":  payload.Subject,
		"score":    payload.Score,
		"reasons":  payload.Reasons,
	}
	for k, v := range payload.Details {
		fields["detail_"+k] = v
	}
	s.log.WithFields(fields).Warn(payload.Title)
	return nil
}
