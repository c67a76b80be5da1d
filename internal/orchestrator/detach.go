package orchestrator

import (
	"context"
	"log"
)

// SpawnDetached runs fn on its own goroutine with a fresh context,
// deliberately not joined by the caller. Failures are logged, never
// propagated — this is the explicit form of the fire-and-forget contract
// used for config sync and billing-triggered deploys.
func SpawnDetached(name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: detached task %s panicked: %v", name, r)
			}
		}()
		if err := fn(context.Background()); err != nil {
			log.Printf("ERROR: detached task %s failed: %v", name, err)
		}
	}()
}
