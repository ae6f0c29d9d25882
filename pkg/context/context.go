// Package context carries build task identity through context.Context
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	taskIDKey ctxKey = iota
	targetKey
	operationKey
	startTimeKey
)

// WithTaskID adds a build task ID to the context, generating one when empty
func WithTaskID(parent context.Context, taskID string) context.Context {
	if taskID == "" {
		taskID = GenerateTaskID()
	}
	return context.WithValue(parent, taskIDKey, taskID)
}

// GetTaskID retrieves the task ID from context, or "" when absent
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTarget records the build target an operation runs against
func WithTarget(parent context.Context, target string) context.Context {
	return context.WithValue(parent, targetKey, target)
}

// GetTarget retrieves the build target name from context
func GetTarget(ctx context.Context) string {
	if t, ok := ctx.Value(targetKey).(string); ok {
		return t
	}
	return ""
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return ""
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetDuration reports the time elapsed since the start time in context,
// or zero when no start time was recorded
func GetDuration(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// GenerateTaskID creates a new unique build task ID
func GenerateTaskID() string {
	return "task_" + uuid.New().String()
}

// BeginTask returns a context tagged with the task ID, operation and a start time
func BeginTask(parent context.Context, taskID, operation string) context.Context {
	ctx := WithTaskID(parent, taskID)
	ctx = WithOperation(ctx, operation)
	return WithStartTime(ctx, time.Now())
}
