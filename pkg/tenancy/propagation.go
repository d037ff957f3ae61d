package tenancy

import (
	"context"

	"github.com/google/uuid"
)

// Snapshot is a detached copy of a RequestContext, safe to hand across
// goroutine boundaries. Worker tasks must never inherit whatever context
// happened to be active on the worker from a previous task; they install
// a snapshot taken at scheduling time instead.
type Snapshot struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Roles    []string
	valid    bool
}

// Capture takes a snapshot of the request context active on ctx. The
// zero Snapshot (no identity) is returned when none is installed, which
// restores to a tenant-less context.
func Capture(ctx context.Context) Snapshot {
	rc, ok := FromContext(ctx)
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		TenantID: rc.TenantID,
		UserID:   rc.UserID,
		Roles:    rc.Roles(),
		valid:    true,
	}
}

// Valid reports whether the snapshot carries an identity.
func (s Snapshot) Valid() bool {
	return s.valid
}

// Restore installs the snapshot onto ctx, returning the scoped context.
// An empty snapshot installs nothing and returns ctx cleared.
func (s Snapshot) Restore(ctx context.Context) context.Context {
	if !s.valid {
		return Clear(ctx)
	}
	return Install(ctx, NewRequestContext(s.TenantID, s.UserID, s.Roles))
}

// WrapTask captures the current request context and returns a task
// function that runs fn under that identity. The snapshot is installed
// on the task's own context before the body runs and cleared afterwards
// in a deferred block, so a panicking task cannot leak identity into
// the next task the worker picks up.
func WrapTask(ctx context.Context, fn func(context.Context) error) func(context.Context) error {
	snap := Capture(ctx)
	return func(taskCtx context.Context) (err error) {
		scoped := snap.Restore(taskCtx)
		defer func() {
			// The scoped context dies with this invocation; the explicit
			// clear guards against the closure being reused.
			scoped = Clear(scoped)
			_ = scoped
		}()
		return fn(scoped)
	}
}
