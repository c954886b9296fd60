// Package memory is an in-process resource collection implementing both the
// enumeration and deletion interfaces. It backs offline runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/snapshot"
)

// ErrTransient is returned for injected transient failures.
var ErrTransient = errors.New("transient failure")

type Collection struct {
	mu        sync.Mutex
	resources []core.Resource
	calls     []string

	// ListErr makes List fail.
	ListErr error
	// Failures makes Remove fail for an id with the given error, every time.
	Failures map[string]error
	// Transient makes Remove fail with ErrTransient the given number of times before succeeding.
	Transient map[string]int
	// OnRemove, if set, runs before each removal is applied.
	OnRemove func(ctx context.Context, id string)
}

func New(resources ...core.Resource) *Collection {
	c := &Collection{}
	c.resources = append(c.resources, resources...)
	return c
}

// FromFile seeds a collection from a snapshot file written by snapshot.Save.
func FromFile(path string) (*Collection, error) {
	payload, err := snapshot.LoadPayload(path)
	if err != nil {
		return nil, err
	}
	return New(payload.Resources...), nil
}

func (c *Collection) List(ctx context.Context, scope string) ([]core.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]core.Resource, 0, len(c.resources))
	for _, r := range c.resources {
		if scope != "" && r.Scope != scope {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Collection) Remove(ctx context.Context, id string) error {
	if c.OnRemove != nil {
		c.OnRemove(ctx, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	if err, ok := c.Failures[id]; ok {
		return err
	}
	if n := c.Transient[id]; n > 0 {
		c.Transient[id] = n - 1
		return fmt.Errorf("remove %s: %w", id, ErrTransient)
	}
	for i, r := range c.resources {
		if r.ID == id {
			c.resources = append(c.resources[:i], c.resources[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove %s: %w", id, core.ErrNotFound)
}

// Add appends resources, e.g. to simulate the world changing between runs.
func (c *Collection) Add(resources ...core.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = append(c.resources, resources...)
}

func (c *Collection) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.resources {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// Calls returns every id passed to Remove, in call order.
func (c *Collection) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}
