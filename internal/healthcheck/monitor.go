// Package healthcheck periodically reconciles instance status with remote
// reality. The remote platform is the occasionally-divergent replica; the
// monitor asks the orchestrator to re-derive status so ownership of
// transitions stays in one place.
package healthcheck

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/botforge-cloud/instance-manager/internal/orchestrator"
	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
)

// Monitor performs periodic health checks on running instances.
type Monitor struct {
	store    store.Store
	orch     *orchestrator.Orchestrator
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(dataStore store.Store, orch *orchestrator.Orchestrator, cfg *config.HealthCheckConfig) *Monitor {
	return &Monitor{
		store:    dataStore,
		orch:     orch,
		interval: cfg.Interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the health check monitoring loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop gracefully stops the health check monitor.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run immediately on start
	m.CheckInstances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckInstances(ctx)
		}
	}
}

// CheckInstances health-checks every RUNNING instance once.
func (m *Monitor) CheckInstances(ctx context.Context) {
	running := model.InstanceStatusRunning
	instances, err := m.store.Instance().List(ctx, &running)
	if err != nil {
		log.Printf("Error listing instances for health check: %v", err)
		return
	}

	for _, instance := range instances {
		select {
		case <-ctx.Done():
			return
		default:
			healthy := m.orch.CheckInstanceHealth(ctx, instance.ID)
			if !healthy {
				log.Printf("Instance %s (user %s) failed health check", instance.ID, instance.UserID)
			}
		}
	}
}
