package db

import "testing"

func TestPoolStats_Healthy(t *testing.T) {
	stats := &PoolStats{TotalConns: 4, IdleConns: 2, AcquiredConns: 2, MaxConns: 20, Healthy: true}
	if !stats.Healthy {
		t.Error("expected healthy pool")
	}
	if stats.TotalConns != stats.IdleConns+stats.AcquiredConns {
		t.Errorf("conn accounting mismatch: total=%d idle=%d acquired=%d",
			stats.TotalConns, stats.IdleConns, stats.AcquiredConns)
	}
}
