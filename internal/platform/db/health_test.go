package db

import (
	"testing"
	"time"
)

func TestPoolStats_HealthyFlag(t *testing.T) {
	healthy := &PoolStats{TotalConns: 3, MaxConns: 10, Healthy: true}
	if !healthy.Healthy {
		t.Error("expected Healthy true with live connections")
	}

	drained := &PoolStats{TotalConns: 0, MaxConns: 10, Healthy: false}
	if drained.Healthy {
		t.Error("expected Healthy false with no connections")
	}
}

func TestNewProber_DefaultTimeout(t *testing.T) {
	p := NewProber(nil)
	if p.timeout != 5*time.Second {
		t.Errorf("expected 5s probe timeout, got %s", p.timeout)
	}
}
