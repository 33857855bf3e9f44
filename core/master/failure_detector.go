package master

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DetectFailures evicts chunk servers that missed heartbeats for more than two
// intervals. Placements keep referencing evicted servers, chunks are not re-replicated.
func (m *Master) DetectFailures() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-2 * m.heartbeatInterval)
	stale := m.servers.FindStale(cutoff)
	for _, id := range stale {
		m.servers.Remove(id)
		m.oplog.Record("evict", zap.String("chunkServerID", id.String()))
		log.Warnw("failure-detector", "status", "evicted", "chunkServerID", id)
	}

	return stale
}

// StartFailureDetector runs DetectFailures every heartbeat interval until ctx is done.
func (m *Master) StartFailureDetector(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	log.Info("starting failure detector")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.DetectFailures()
		}
	}
}
