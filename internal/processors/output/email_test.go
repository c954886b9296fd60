package output

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/outputs/email/mock"
)

func testRun(planned, succeeded int) *core.Run {
	return &core.Run{
		ID:     "run-1",
		Job:    "tabs",
		Status: core.RunStatusCompleted,
		Summary: core.Summary{
			ResourcesSeen:     5,
			RemovalsPlanned:   planned,
			RemovalsIssued:    planned,
			RemovalsSucceeded: succeeded,
		},
	}
}

func TestEmailProcessorDeliversReport(t *testing.T) {
	sender := &mock.Sender{}
	p, err := NewEmailProcessor(&config.EmailOutput{To: "ops@example.com", From: "culler@example.com"}, sender)
	if err != nil {
		t.Fatalf("NewEmailProcessor failed: %v", err)
	}
	if err := p.Deliver(context.Background(), testRun(3, 2)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	msg := sent[0]
	if msg.Subject != "culler: tabs removed 2 of 3" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "<table>") || !strings.Contains(msg.HTML, "<html>") {
		t.Fatalf("expected HTML report, got %q", msg.HTML)
	}
	if strings.Contains(msg.HTML, "&lt;table&gt;") {
		t.Fatalf("report HTML should not be escaped: %q", msg.HTML)
	}
	if !strings.HasPrefix(msg.Text, "# Culler: tabs") {
		t.Fatalf("expected markdown alternative, got %q", msg.Text)
	}
}

func TestEmailProcessorCustomSubject(t *testing.T) {
	sender := &mock.Sender{}
	p, err := NewEmailProcessor(&config.EmailOutput{To: "ops@example.com", Subject: "[{{.Status}}] {{.Job}}"}, sender)
	if err != nil {
		t.Fatalf("NewEmailProcessor failed: %v", err)
	}
	if err := p.Deliver(context.Background(), testRun(1, 1)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if got := sender.Sent()[0].Subject; got != "[completed] tabs" {
		t.Fatalf("subject = %q", got)
	}
}

func TestEmailProcessorOnlyWithRemovals(t *testing.T) {
	sender := &mock.Sender{}
	p, err := NewEmailProcessor(&config.EmailOutput{To: "ops@example.com", OnlyWithRemovals: true}, sender)
	if err != nil {
		t.Fatalf("NewEmailProcessor failed: %v", err)
	}
	if err := p.Deliver(context.Background(), testRun(0, 0)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(sender.Sent()) != 0 {
		t.Fatalf("expected no message for an empty run")
	}
}

func TestEmailProcessorErrors(t *testing.T) {
	if _, err := NewEmailProcessor(nil, &mock.Sender{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewEmailProcessor(&config.EmailOutput{To: "a@example.com", Subject: "{{"}, &mock.Sender{}); err == nil {
		t.Fatalf("expected subject parse error")
	}

	p, err := NewEmailProcessor(&config.EmailOutput{To: "a@example.com"}, nil)
	if err != nil {
		t.Fatalf("NewEmailProcessor failed: %v", err)
	}
	if err := p.Deliver(context.Background(), testRun(1, 1)); err == nil {
		t.Fatalf("expected validation error without sender")
	}

	failing := &mock.Sender{Err: errors.New("smtp down")}
	p, err = NewEmailProcessor(&config.EmailOutput{To: "a@example.com"}, failing)
	if err != nil {
		t.Fatalf("NewEmailProcessor failed: %v", err)
	}
	if err := p.Deliver(context.Background(), testRun(1, 1)); err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected sender error, got %v", err)
	}
}
