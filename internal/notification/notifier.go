// Package notification delivers operational alerts (failed or recovered
// dataset refreshes) to external channels.
package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. Used when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// RefreshAlerter turns refresh outcomes into alerts on state changes only:
// one alert when refreshes start failing and one when they recover.
type RefreshAlerter struct {
	Notifier Notifier

	mu      sync.Mutex
	failing bool
}

// Observe records a refresh outcome and sends an alert on transitions.
// Delivery errors are logged, never returned.
func (a *RefreshAlerter) Observe(ctx context.Context, series int, err error) {
	a.mu.Lock()
	was := a.failing
	a.failing = err != nil
	a.mu.Unlock()

	var alert Alert
	switch {
	case err != nil && !was:
		alert = Alert{Level: AlertCritical, Title: "dataset refresh failed", Message: err.Error()}
	case err == nil && was:
		alert = Alert{Level: AlertInfo, Title: "dataset refresh recovered", Message: fmt.Sprintf("%d series rebuilt", series)}
	default:
		return
	}
	if sendErr := a.Notifier.Send(ctx, alert); sendErr != nil {
		log.Printf("[notify] alert delivery failed: %v", sendErr)
	}
}
