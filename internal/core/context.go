package core

import "context"

type jobKey struct{}
type runIDKey struct{}

func WithJob(ctx context.Context, job string) context.Context {
	if ctx == nil || job == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey{}, job)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil || runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

func JobFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobKey{}).(string); ok {
		return v
	}
	return ""
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}
