package health

import "context"

// HealthPinger is implemented by dependencies the service reports on, such
// as the guarded activity store. HealthPing returns nil when the dependency
// can serve requests.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
