package models

import (
	"testing"
	"time"
)

func TestWebhookEventProcessed(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		event WebhookEvent
		want  bool
	}{
		{"never processed", WebhookEvent{}, false},
		{"processed cleanly", WebhookEvent{ProcessedAt: &now}, true},
		{"processed with error", WebhookEvent{ProcessedAt: &now, ProcessingError: "user not resolvable"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Processed(); got != tt.want {
				t.Fatalf("Processed() = %v, want %v", got, tt.want)
			}
		})
	}
}
