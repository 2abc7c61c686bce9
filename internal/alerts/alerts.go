package alerts

import (
	"context"
	"time"
)

// Kind identifies which detector raised an alert
type Kind string

const (
	KindFunding      Kind = "FUNDING_PATTERN"
	KindCoordination Kind = "COORDINATION"
	KindVolume       Kind = "VOLUME_ANOMALY"
)

// Severity represents alert severity
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertPayload contains all information for an alert
type AlertPayload struct {
	Kind      Kind
	Severity  Severity
	Subject   string // wallet address or market id
	Title     string
	Score     float64
	Reasons   []string
	Details   map[string]any
	Timestamp time.Time
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *AlertPayload) error
}

// NopSender drops every alert
type NopSender struct{}

// Send implements Sender
func (NopSender) Send(context.Context, *AlertPayload) error { return nil }
