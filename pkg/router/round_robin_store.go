package router

import "context"

// RoundRobinCounter hands out shared rotation positions, so that several
// gateway processes rotating over one model group interleave instead of all
// starting at the first deployment.
type RoundRobinCounter interface {
	// NextIndex returns the next position for key, modulo the given size.
	NextIndex(ctx context.Context, key string, modulo int) (int, error)
}
