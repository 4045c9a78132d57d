package domain

import "fmt"

// Balance holds the free and locked amounts of one asset. Both components are
// always non-negative; Total is derived.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free + locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// ApplyDelta adds a signed delta to the free amount. A delta that would drive
// the free balance negative is rejected and the balance left unchanged; the
// caller logs it and waits for reconciliation to settle the discrepancy.
func (b *Balance) ApplyDelta(delta float64) error {
	next := b.Free + delta
	if next < 0 {
		return fmt.Errorf("balance %s: delta %v would drive free balance negative (free=%v)", b.Asset, delta, b.Free)
	}
	b.Free = next
	return nil
}
