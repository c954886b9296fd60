package output

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/outputs/email"
	"github.com/bakkerme/culler/internal/report"
)

const defaultSubject = "culler: {{.Job}} removed {{.Summary.RemovalsSucceeded}} of {{.Summary.RemovalsPlanned}}"

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif">
{{.Body}}
</body></html>
`))

type EmailProcessor struct {
	name    string
	config  config.EmailOutput
	subject *texttemplate.Template
	sender  email.Sender
}

func NewEmailProcessor(cfg *config.EmailOutput, sender email.Sender) (*EmailProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("email config is required")
	}
	subject := cfg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = defaultSubject
	}
	tmpl, err := texttemplate.New("subject").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("parse email subject: %w", err)
	}
	return &EmailProcessor{
		name:    "email",
		config:  *cfg,
		subject: tmpl,
		sender:  sender,
	}, nil
}

func (p *EmailProcessor) Name() string {
	return p.name
}

func (p *EmailProcessor) Validate() error {
	if p.sender == nil {
		return fmt.Errorf("email sender is required")
	}
	if p.config.To == "" {
		return fmt.Errorf("email 'to' is required")
	}
	return nil
}

func (p *EmailProcessor) Deliver(ctx context.Context, run *core.Run) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("email processor validation failed: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if p.config.OnlyWithRemovals && run.Summary.RemovalsPlanned == 0 {
		core.LoggerFromContext(ctx).Debug("skipping email, nothing removed", "to", p.config.To)
		return nil
	}

	var subject strings.Builder
	if err := p.subject.Execute(&subject, run); err != nil {
		return fmt.Errorf("render email subject failed: %w", err)
	}
	html, err := renderEmailBody(run)
	if err != nil {
		return fmt.Errorf("render email body failed: %w", err)
	}
	return p.sender.Send(ctx, email.Message{
		From:    p.config.From,
		To:      p.config.To,
		Subject: subject.String(),
		HTML:    html,
		Text:    report.Markdown(run),
	})
}

func renderEmailBody(run *core.Run) (string, error) {
	body, err := report.HTML(run)
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	// The report HTML is produced by goldmark from escaped markdown, so it is inserted as-is.
	if err := layout.Execute(&builder, struct{ Body template.HTML }{Body: template.HTML(body)}); err != nil {
		return "", err
	}
	return builder.String(), nil
}
