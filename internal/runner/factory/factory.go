package factory

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/filter"
	"github.com/bakkerme/culler/internal/keys"
	"github.com/bakkerme/culler/internal/outputs/email"
	"github.com/bakkerme/culler/internal/outputs/email/smtp"
	"github.com/bakkerme/culler/internal/processors/output"
	"github.com/bakkerme/culler/internal/processors/trigger"
	"github.com/bakkerme/culler/internal/selection"
)

// Factory builds the concrete processors named by a culler document.
type Factory struct {
	Logger       *slog.Logger
	SMTPDefaults config.SMTPEnvConfig
	// EmailSender overrides the SMTP sender built from config. Used in tests.
	EmailSender email.Sender
	Now         func() time.Time
}

func NewFromEnvConfig(logger *slog.Logger, env config.EnvConfig) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		Logger:       logger,
		SMTPDefaults: env.SMTP,
		// Leave EmailSender nil so each output builds its own sender from the
		// merged YAML and env settings.
		EmailSender: nil,
		Now:         time.Now,
	}
}

func (f *Factory) NewKeyExtractor(cfg *config.DedupeConfig) (core.KeyExtractor, error) {
	return keys.Parse(cfg.Key, keys.Options{
		IgnoreFragment:      cfg.Normalize.IgnoreFragment,
		IgnoreQuery:         cfg.Normalize.IgnoreQuery,
		IgnoreTrailingSlash: cfg.Normalize.IgnoreTrailingSlash,
		FoldCase:            cfg.Normalize.FoldCase,
	})
}

func (f *Factory) NewSelectionPolicy(cfg *config.DedupeConfig) (core.SelectionPolicy, error) {
	return selection.Parse(cfg.Policy)
}

func (f *Factory) NewPredicate(cfg *config.FilterConfig) (core.Predicate, error) {
	switch {
	case cfg.Rule != "":
		name := cfg.Name
		if name == "" {
			name = "rule"
		}
		rule, err := filter.NewRule(name, cfg.Rule)
		if err != nil {
			return nil, err
		}
		return rule, nil
	case cfg.Contains != nil:
		return filter.Contains(cfg.Contains.Field, cfg.Contains.Substring)
	case cfg.OlderThan != "":
		maxAge, err := config.ParseDuration(cfg.OlderThan)
		if err != nil {
			return nil, fmt.Errorf("older_than: %w", err)
		}
		now := f.Now
		if now == nil {
			now = time.Now
		}
		return filter.OlderThan(maxAge, now)
	default:
		return nil, fmt.Errorf("filter has no predicate")
	}
}

func (f *Factory) NewCronTrigger(cfg *config.CronTrigger) (core.TriggerProcessor, error) {
	processor := trigger.NewCronProcessor(cfg.Schedule, cfg.Timezone)
	if err := processor.Validate(); err != nil {
		return nil, err
	}
	return processor, nil
}

func (f *Factory) NewEmailOutput(cfg *config.EmailOutput) (core.OutputProcessor, error) {
	merged := f.mergeEmailConfig(cfg)
	sender := f.EmailSender
	if sender == nil {
		smtpSender, err := smtp.NewSender(smtp.Config{
			Host:               merged.SMTPHost,
			Port:               merged.SMTPPort,
			Username:           merged.SMTPUser,
			Password:           merged.SMTPPassword,
			TLSMode:            f.tlsMode(merged.UseTLS),
			InsecureSkipVerify: f.SMTPDefaults.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("email output: %w", err)
		}
		sender = smtpSender
	}
	processor, err := output.NewEmailProcessor(merged, sender)
	if err != nil {
		return nil, err
	}
	return processor, nil
}

// tlsMode maps the YAML use_tls switch onto the sender's TLS modes. An unset
// switch keeps the env mode.
func (f *Factory) tlsMode(useTLS *bool) string {
	if useTLS == nil {
		return f.SMTPDefaults.TLSMode
	}
	if !*useTLS {
		return string(smtp.TLSModeDisabled)
	}
	if f.SMTPDefaults.TLSMode != "" && f.SMTPDefaults.TLSMode != string(smtp.TLSModeDisabled) {
		return f.SMTPDefaults.TLSMode
	}
	return string(smtp.TLSModeAuto)
}

func (f *Factory) mergeEmailConfig(cfg *config.EmailOutput) *config.EmailOutput {
	if cfg == nil {
		return &config.EmailOutput{}
	}
	merged := *cfg
	if merged.SMTPHost == "" {
		merged.SMTPHost = f.SMTPDefaults.Host
	}
	if merged.SMTPPort == 0 {
		merged.SMTPPort = f.SMTPDefaults.Port
	}
	if merged.SMTPUser == "" {
		merged.SMTPUser = f.SMTPDefaults.User
	}
	if merged.SMTPPassword == "" {
		merged.SMTPPassword = f.SMTPDefaults.Password
	}
	return &merged
}
