package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/culler/internal/core"
)

type Payload struct {
	Scope      string          `json:"scope,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Resources  []core.Resource `json:"resources"`
}

func Save(path string, snap *core.Snapshot) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	payload := Payload{
		Scope:      snap.Scope(),
		CapturedAt: snap.CapturedAt(),
		Resources:  snap.Resources(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func Load(path string) (*core.Snapshot, error) {
	payload, err := LoadPayload(path)
	if err != nil {
		return nil, err
	}
	snap, err := core.NewSnapshot(payload.Scope, payload.CapturedAt, payload.Resources)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// LoadPayload reads the raw payload without validating resource ids.
func LoadPayload(path string) (*Payload, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &payload, nil
}
