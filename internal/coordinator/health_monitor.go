// Package coordinator implements the controller process (Component M):
// computing ShardInfo, publishing it, and heartbeating servers. See
// doc.go for full package documentation.
package coordinator

import (
	"log"
	"sync"
	"time"

	"github.com/dreamware/shardkv/internal/wire"
)

// ServerHealth tracks one server's responsiveness to the controller's
// PutShardInfo heartbeat rounds. A server that misses acknowledgements
// is only logged — the core performs no view change — so this exists
// purely for operational visibility.
type ServerHealth struct {
	LastAcked         time.Time
	Pid               wire.Pid
	Status            string
	ConsecutiveMisses int
}

// HealthMonitor tracks acknowledgement history for every server the
// controller heartbeats, derived from which PutShardInfoRes replies each
// pusher round actually collects (see Controller.pusherRound).
type HealthMonitor struct {
	mu        sync.RWMutex
	servers   map[wire.Pid]*ServerHealth
	maxMisses int
}

// NewHealthMonitor creates a monitor that marks a server unhealthy after
// maxMisses consecutive un-acknowledged heartbeat rounds.
func NewHealthMonitor(maxMisses int) *HealthMonitor {
	if maxMisses <= 0 {
		maxMisses = 3
	}
	return &HealthMonitor{
		servers:   make(map[wire.Pid]*ServerHealth),
		maxMisses: maxMisses,
	}
}

// RecordRound updates health state after one pusher round: acked lists
// servers whose PutShardInfoRes arrived before the round timeout, and
// all must list every server the round addressed.
func (h *HealthMonitor) RecordRound(all []wire.Pid, acked map[wire.Pid]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for _, pid := range all {
		s, ok := h.servers[pid]
		if !ok {
			s = &ServerHealth{Pid: pid, Status: "unknown"}
			h.servers[pid] = s
		}
		if acked[pid] {
			s.ConsecutiveMisses = 0
			s.Status = "healthy"
			s.LastAcked = now
			continue
		}
		s.ConsecutiveMisses++
		if s.ConsecutiveMisses >= h.maxMisses {
			if s.Status != "unhealthy" {
				log.Printf("controller: server pid=%d unresponsive for %d heartbeat rounds", pid, s.ConsecutiveMisses)
			}
			s.Status = "unhealthy"
		}
	}
}

// Snapshot returns a copy of the current health table, keyed by Pid.
func (h *HealthMonitor) Snapshot() map[wire.Pid]ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[wire.Pid]ServerHealth, len(h.servers))
	for pid, s := range h.servers {
		out[pid] = *s
	}
	return out
}

// IsHealthy reports whether pid's last recorded status was healthy.
// Unknown servers (never part of a round) report false.
func (h *HealthMonitor) IsHealthy(pid wire.Pid) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.servers[pid]
	return ok && s.Status == "healthy"
}

