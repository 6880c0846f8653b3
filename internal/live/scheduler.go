package live

import (
	"sync"
	"time"
)

// Scheduler runs deferred and repeating tasks, each with a cancel handle
type Scheduler interface {
	Every(d time.Duration, fn func()) (cancel func())
	After(d time.Duration, fn func()) (cancel func())
}

// ClockScheduler is a Scheduler backed by time.Ticker and time.AfterFunc
type ClockScheduler struct{}

// Every runs fn on its own goroutine every d until cancelled
func (ClockScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

// After runs fn once after d unless cancelled first
func (ClockScheduler) After(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}
