package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/outputs/email/mock"
	"github.com/bakkerme/culler/internal/outputs/email/smtp"
)

const sampleDocument = `
jobs:
  - name: tabs
    scope:
      scope: page
    dedupe:
      key: location
      policy: most_recent
      normalize:
        ignore_fragment: true
    filter:
      older_than: 7d
    trigger:
      - cron:
          schedule: "0 * * * *"
    output:
      - email:
          to: ops@example.com
          smtp_host: localhost
`

func TestParseJobsBuildsProcessors(t *testing.T) {
	doc, err := config.Decode([]byte(sampleDocument))
	require.NoError(t, err)

	f := NewFromEnvConfig(nil, config.EnvConfig{SMTP: config.SMTPEnvConfig{Port: 25}})
	f.EmailSender = &mock.Sender{}

	jobs, err := doc.ParseJobs(f)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "tabs", job.Name)
	assert.Equal(t, "page", job.Scope)
	require.NotNil(t, job.Dedupe)
	assert.Equal(t, "most_recent", job.Dedupe.Policy.Name())
	require.NotNil(t, job.Predicate)
	require.Len(t, job.Triggers, 1)
	assert.Equal(t, "cron", job.Triggers[0].Name())
	require.Len(t, job.Outputs, 1)
	assert.NoError(t, job.Outputs[0].Validate())

	key, err := job.Dedupe.Extractor.Key(core.Resource{ID: "1", Location: "https://a.example/x#top"})
	require.NoError(t, err)
	other, err := job.Dedupe.Extractor.Key(core.Resource{ID: "2", Location: "https://a.example/x"})
	require.NoError(t, err)
	assert.Equal(t, key, other)
}

func TestNewPredicateOlderThanUsesClock(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	f := &Factory{Now: func() time.Time { return now }}

	p, err := f.NewPredicate(&config.FilterConfig{OlderThan: "2d"})
	require.NoError(t, err)

	stale, err := p.Match(core.Resource{ID: "old", LastUsedAt: now.Add(-72 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, stale)

	fresh, err := p.Match(core.Resource{ID: "new", LastUsedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestNewPredicateRuleAndContains(t *testing.T) {
	f := &Factory{}

	rule, err := f.NewPredicate(&config.FilterConfig{Name: "ads", Rule: `location contains "ads"`})
	require.NoError(t, err)
	assert.Equal(t, "ads", rule.Name())

	contains, err := f.NewPredicate(&config.FilterConfig{Contains: &config.ContainsFilter{Substring: "tracker"}})
	require.NoError(t, err)
	ok, err := contains.Match(core.Resource{ID: "1", Location: "https://tracker.example"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.NewPredicate(&config.FilterConfig{})
	assert.Error(t, err)
}

func TestNewCronTriggerRejectsBadSchedule(t *testing.T) {
	f := &Factory{}
	_, err := f.NewCronTrigger(&config.CronTrigger{Schedule: "every tuesday"})
	assert.Error(t, err)
}

func TestMergeEmailConfigPrefersYAML(t *testing.T) {
	f := &Factory{SMTPDefaults: config.SMTPEnvConfig{Host: "env-host", Port: 587, User: "env-user", Password: "env-pass"}}

	merged := f.mergeEmailConfig(&config.EmailOutput{To: "a@example.com", SMTPHost: "yaml-host"})
	assert.Equal(t, "yaml-host", merged.SMTPHost)
	assert.Equal(t, 587, merged.SMTPPort)
	assert.Equal(t, "env-user", merged.SMTPUser)
	assert.Equal(t, "env-pass", merged.SMTPPassword)
}

func TestTLSMode(t *testing.T) {
	yes, no := true, false
	f := &Factory{SMTPDefaults: config.SMTPEnvConfig{TLSMode: "starttls"}}
	assert.Equal(t, "starttls", f.tlsMode(nil))
	assert.Equal(t, "starttls", f.tlsMode(&yes))
	assert.Equal(t, string(smtp.TLSModeDisabled), f.tlsMode(&no))

	f.SMTPDefaults.TLSMode = "disabled"
	assert.Equal(t, string(smtp.TLSModeAuto), f.tlsMode(&yes))
}

func TestNewEmailOutputRequiresHost(t *testing.T) {
	f := &Factory{}
	_, err := f.NewEmailOutput(&config.EmailOutput{To: "a@example.com"})
	assert.Error(t, err)
}
