package core

// SnapshotConfig saves a captured snapshot to Path, or restores one from it
// instead of enumerating the live collection.
type SnapshotConfig struct {
	Snapshot bool   `json:"snapshot" yaml:"snapshot"`
	Restore  bool   `json:"restore" yaml:"restore"`
	Path     string `json:"path" yaml:"path"`
}

// Dedupe configures the grouping side of a job.
type Dedupe struct {
	Extractor KeyExtractor
	Policy    SelectionPolicy
	// MinSize is the smallest group size considered a duplicate group; values below 2 mean 2.
	MinSize int
}

// Job is a configured, runnable cleanup: which resources, how duplicates are
// detected, what else is removed, and when and where results go.
type Job struct {
	Name      string
	Scope     string
	Match     string
	Dedupe    *Dedupe
	Predicate Predicate
	DryRun    bool
	Snapshot  *SnapshotConfig
	Triggers  []TriggerProcessor
	Outputs   []OutputProcessor
}
