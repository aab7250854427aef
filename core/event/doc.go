// Package event provides an edge-style wakeup notifier with a pollable
// file descriptor: eventfd on linux, a non-blocking pipe elsewhere.
//
// It synchronizes cross-thread producers with a consumer loop: producers
// Notify after publishing, the consumer polls the descriptor, drains its
// queues and Clears. ClearRace covers the window where a producer
// publishes between the final drain and the clear.
package event

// ClearRace disarms the notifier and re-arms it when more work arrived
// concurrently. pending reports whether undrained work remains.
func (e *Event) ClearRace(pending func() bool) error {
	if err := e.Clear(); err != nil {
		return err
	}
	if pending() {
		return e.Notify()
	}
	return nil
}
