package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionRescanDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unsubscribed never due", func(t *testing.T) {
		s := Subscription{IsSubscribed: false, ScanIntervalSeconds: 3600}
		assert.False(t, s.RescanDue(now))
	})

	t.Run("currently queued never due", func(t *testing.T) {
		s := Subscription{IsSubscribed: true, IsCurrentlyQueued: true, ScanIntervalSeconds: 3600}
		assert.False(t, s.RescanDue(now))
	})

	t.Run("never scanned is due", func(t *testing.T) {
		s := Subscription{IsSubscribed: true, ScanIntervalSeconds: 3600}
		assert.True(t, s.RescanDue(now))
	})

	t.Run("interval not yet elapsed", func(t *testing.T) {
		last := now.Add(-30 * time.Minute)
		s := Subscription{IsSubscribed: true, ScanIntervalSeconds: 3600, LastScannedAt: &last}
		assert.False(t, s.RescanDue(now))
	})

	t.Run("interval exactly elapsed", func(t *testing.T) {
		last := now.Add(-time.Hour)
		s := Subscription{IsSubscribed: true, ScanIntervalSeconds: 3600, LastScannedAt: &last}
		assert.True(t, s.RescanDue(now))
	})

	t.Run("interval well past", func(t *testing.T) {
		last := now.Add(-2 * time.Hour)
		s := Subscription{IsSubscribed: true, ScanIntervalSeconds: 3600, LastScannedAt: &last}
		assert.True(t, s.RescanDue(now))
	})
}
