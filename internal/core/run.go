package core

import (
	"encoding/json"
	"time"
)

// Group is a key paired with the snapshot-ordered resources that share it.
type Group struct {
	Key     Key        `json:"key" yaml:"key"`
	Members []Resource `json:"members" yaml:"members"`
}

func (g Group) Len() int { return len(g.Members) }

// Has reports whether id is a member of the group.
func (g Group) Has(id string) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// GroupPlan is the decision taken for one group: who survives and who goes.
type GroupPlan struct {
	Key      Key      `json:"key" yaml:"key"`
	Survivor Resource `json:"survivor" yaml:"survivor"`
	Remove   []string `json:"remove" yaml:"remove"`
}

// RemovalSet is an insertion-ordered set of resource ids. The zero value is ready to use.
type RemovalSet struct {
	ids   []string
	index map[string]struct{}
}

// NewRemovalSet builds a set from ids, dropping duplicates and empty ids.
func NewRemovalSet(ids ...string) RemovalSet {
	var s RemovalSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s *RemovalSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if s.index == nil {
		s.index = map[string]struct{}{}
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

func (s RemovalSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s RemovalSet) Len() int { return len(s.ids) }

// IDs returns the ids in insertion order.
func (s RemovalSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Union returns a new set holding s followed by the ids of other not already in s.
func (s RemovalSet) Union(other RemovalSet) RemovalSet {
	out := NewRemovalSet(s.ids...)
	for _, id := range other.ids {
		out.Add(id)
	}
	return out
}

// Without returns a copy of s with the given ids removed.
func (s RemovalSet) Without(ids ...string) RemovalSet {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var out RemovalSet
	for _, id := range s.ids {
		if _, ok := drop[id]; !ok {
			out.Add(id)
		}
	}
	return out
}

func (s RemovalSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *RemovalSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewRemovalSet(ids...)
	return nil
}

func (s RemovalSet) MarshalYAML() (interface{}, error) {
	return s.IDs(), nil
}

// OutcomeStatus is the result of one removal attempt.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	// OutcomeSkipped means the resource was already absent; benign.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// RemovalOutcome is the per-id result of the Removal Executor.
type RemovalOutcome struct {
	ID       string        `json:"id" yaml:"id"`
	Status   OutcomeStatus `json:"status" yaml:"status"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Summary is the structured report produced at the end of every run.
type Summary struct {
	ResourcesSeen     int         `json:"resources_seen" yaml:"resources_seen"`
	GroupsFound       int         `json:"groups_found" yaml:"groups_found"`
	SurvivorsKept     int         `json:"survivors_kept" yaml:"survivors_kept"`
	RemovalsPlanned   int         `json:"removals_planned" yaml:"removals_planned"`
	RemovalsIssued    int         `json:"removals_issued" yaml:"removals_issued"`
	RemovalsSucceeded int         `json:"removals_succeeded" yaml:"removals_succeeded"`
	RemovalsSkipped   int         `json:"removals_skipped" yaml:"removals_skipped"`
	RemovalsFailed    []ItemError `json:"removals_failed" yaml:"removals_failed"`
	ExtractionErrors  []ItemError `json:"extraction_errors" yaml:"extraction_errors"`
	PredicateErrors   []ItemError `json:"predicate_errors" yaml:"predicate_errors"`
	DryRun            bool        `json:"dry_run" yaml:"dry_run"`
}

// Errors returns every per-item error recorded in the summary.
func (s Summary) Errors() []ItemError {
	out := make([]ItemError, 0, len(s.ExtractionErrors)+len(s.PredicateErrors)+len(s.RemovalsFailed))
	out = append(out, s.ExtractionErrors...)
	out = append(out, s.PredicateErrors...)
	out = append(out, s.RemovalsFailed...)
	return out
}

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents a single execution of a job: its plan, outcomes and summary.
type Run struct {
	ID          string           `json:"id" yaml:"id"`
	Job         string           `json:"job" yaml:"job"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RunStatus        `json:"status" yaml:"status"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
	Groups      []GroupPlan      `json:"groups,omitempty" yaml:"groups,omitempty"`
	RemovalSet  RemovalSet       `json:"removal_set" yaml:"removal_set"`
	Outcomes    []RemovalOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Summary     Summary          `json:"summary" yaml:"summary"`
}
