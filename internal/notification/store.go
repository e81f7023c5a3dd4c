package notification

import "context"

// Filter narrows a Query. A zero Filter matches every notification.
type Filter struct {
	UserID string
}

// Store is the durable keyed storage behind the facade. Implementations
// must be atomic per call: a single insert, a single statement for each
// read-state update. Ordering for Query is created_at descending with id
// as the deterministic tie-break.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	Query(ctx context.Context, f Filter, limit, offset int) ([]Notification, error)
	UpdateReadState(ctx context.Context, id string) (int64, error)
	BulkUpdateReadState(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}
