package replica

import (
	"time"

	"github.com/sirupsen/logrus"
)

// StartSweepers launches the lock-sweep and lease-sweep periodic tasks
// (spec §4.7). Both enqueue their work onto the same serializer channel
// as ordinary requests, so they never race a request handler and always
// see a consistent snapshot (spec §5, §9).
func (h *Handler) StartSweepers() {
	go h.lockSweepLoop()
	go h.leaseSweepLoop()
}

func (h *Handler) lockSweepLoop() {
	period := time.Duration(h.cfg.LockSweepPeriod) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweepLocksOnce()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Handler) leaseSweepLoop() {
	period := time.Duration(h.cfg.LeaseSweepPeriod) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweepLeasesOnce()
		case <-h.stopCh:
			return
		}
	}
}

// sweepLocksOnce runs one lock-sweep pass; it is a separate method so
// in-package tests can drive the sweep deterministically instead of
// waiting on a ticker.
func (h *Handler) sweepLocksOnce() {
	h.submit(func() {
		swept := h.locks.sweepExpired(h.clock.NowMS(), h.cfg.LockTTLMS)
		for _, l := range swept {
			h.log.WithFields(logrus.Fields{"key": l.Key, "tag": l.Tag}).Debug("swept stale write-lock")
		}
	})
}

// sweepLeasesOnce runs one lease-sweep pass.
func (h *Handler) sweepLeasesOnce() {
	h.submit(func() {
		swept := h.store.sweepExpired(h.clock.NowMS(), h.locks.isLocked)
		for _, k := range swept {
			h.log.WithField("key", k).Debug("swept expired lease")
		}
	})
}
