package master

import (
	"context"
	"sort"
	"time"

	"github.com/pyropy/gfs/core/model"
)

// FindOrphanedChunks returns the handles reported by live chunk servers that the
// chunk index does not know about. Nothing is deleted.
func (m *Master) FindOrphanedChunks() []model.ChunkHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[model.ChunkHandle]struct{}{}
	orphaned := make([]model.ChunkHandle, 0)
	for _, cs := range m.servers.ChunkServers {
		for _, chunk := range cs.Chunks {
			if _, known := m.chunks.GetChunk(chunk.Handle); known {
				continue
			}
			if _, dup := seen[chunk.Handle]; dup {
				continue
			}

			seen[chunk.Handle] = struct{}{}
			orphaned = append(orphaned, chunk.Handle)
		}
	}

	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i] < orphaned[j] })
	return orphaned
}

// StartGC periodically reports orphaned chunks until ctx is done.
func (m *Master) StartGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("starting gc service")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if orphaned := m.FindOrphanedChunks(); len(orphaned) > 0 {
				log.Infow("gc", "status", "orphaned chunks", "handles", orphaned)
			}
		}
	}
}
