package presence

import "context"

// Presence status values. A missing record means offline.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusEvent is published when a user's presence changes, so peer instances
// can notify local room members.
type StatusEvent struct {
	UserID           string `json:"user_id"`
	Status           string `json:"status"`
	OriginInstanceID string `json:"origin_instance_id"`
}

// Store is the presence cache shared by all process instances. Records carry
// a TTL and are refreshed while the owning connection stays alive, so a
// crashed instance's users expire back to offline.
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	// Get returns the user's status, defaulting to offline for missing
	// records and for store errors (degraded mode).
	Get(ctx context.Context, userID string) (string, error)
	// Subscribe delivers status events published by any instance until ctx
	// is cancelled.
	Subscribe(ctx context.Context) (<-chan StatusEvent, error)
	Close() error
}
