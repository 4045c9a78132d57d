package engine

import (
	"sync"
	"time"
)

// DailyMetrics is a snapshot of the day's trading accumulators. Counters
// reset at the UTC day boundary.
type DailyMetrics struct {
	Day           time.Time
	Trades        int
	WinningTrades int
	LosingTrades  int
	RealizedPnL   float64
	Commission    float64
	Volume        float64
}

type dailyMetrics struct {
	mu   sync.Mutex
	snap DailyMetrics
}

func newDailyMetrics() *dailyMetrics {
	return &dailyMetrics{snap: DailyMetrics{Day: utcDay(time.Now())}}
}

func (d *dailyMetrics) recordClose(pnl, commission, volume float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked()
	d.snap.Trades++
	if pnl >= 0 {
		d.snap.WinningTrades++
	} else {
		d.snap.LosingTrades++
	}
	d.snap.RealizedPnL += pnl
	d.snap.Commission += commission
	d.snap.Volume += volume
}

func (d *dailyMetrics) snapshot() DailyMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked()
	return d.snap
}

func (d *dailyMetrics) rollLocked() {
	today := utcDay(time.Now())
	if !today.Equal(d.snap.Day) {
		d.snap = DailyMetrics{Day: today}
	}
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ReconMetrics is a snapshot of the reconciliation counters. All counters are
// monotonic for the lifetime of the engine except ConsecutiveFailures, which
// resets on every successful pass.
type ReconMetrics struct {
	Passes              uint64
	Discrepancies       uint64
	BalanceMismatches   uint64
	OrderMismatches     uint64
	MissingCancelled    uint64
	OrphansAdopted      uint64
	StaleCancelled      uint64
	ConsecutiveFailures int
	LastRun             time.Time
}

type reconMetrics struct {
	mu   sync.Mutex
	snap ReconMetrics
}

func (r *reconMetrics) recordPass(discrepancies int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Passes++
	r.snap.Discrepancies += uint64(discrepancies)
	r.snap.ConsecutiveFailures = 0
	r.snap.LastRun = time.Now().UTC()
}

func (r *reconMetrics) recordFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ConsecutiveFailures++
	r.snap.LastRun = time.Now().UTC()
	return r.snap.ConsecutiveFailures
}

func (r *reconMetrics) addBalanceMismatch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.BalanceMismatches++
}

func (r *reconMetrics) addOrderMismatch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.OrderMismatches++
}

func (r *reconMetrics) addMissingCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.MissingCancelled++
}

func (r *reconMetrics) addOrphanAdopted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.OrphansAdopted++
}

func (r *reconMetrics) addStaleCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.StaleCancelled++
}

func (r *reconMetrics) snapshot() ReconMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
