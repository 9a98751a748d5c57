package job

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Update(ctx context.Context, j *Job) error
	Get(ctx context.Context, id int64) (*Job, error)
	List(ctx context.Context, kind string) ([]Job, error)
	// Latest returns the newest job for kind and identity, or nil.
	Latest(ctx context.Context, kind, identity string) (*Job, error)
	// FindActive returns a pending or running job for kind and identity, or nil.
	FindActive(ctx context.Context, kind, identity string) (*Job, error)
	ClaimPending(ctx context.Context) (*Job, error)
	// FailUnfinished marks every pending or running job as failed with msg.
	FailUnfinished(ctx context.Context, msg string) (int64, error)
	// DeleteFinishedBefore removes done and failed jobs last updated before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}
