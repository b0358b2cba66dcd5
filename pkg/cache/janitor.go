package cache

import (
	"sync"
	"time"
)

// Sweepable is implemented by every Namespace regardless of payload type.
type Sweepable interface {
	Name() string
	Sweep() int
	Clear()
	Len() int
}

// Janitor sweeps a set of namespaces on a fixed period, independent of
// request traffic.
type Janitor struct {
	namespaces []Sweepable
	interval   time.Duration
	onSweep    func(name string, removed int)
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewJanitor creates a janitor; call Start to begin sweeping
func NewJanitor(interval time.Duration, namespaces ...Sweepable) *Janitor {
	return &Janitor{
		namespaces: namespaces,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// OnSweep registers a callback invoked after each namespace sweep.
func (j *Janitor) OnSweep(fn func(name string, removed int)) {
	j.onSweep = fn
}

// Start launches the cleanup goroutine
func (j *Janitor) Start() {
	go j.run()
}

func (j *Janitor) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.SweepAll()
		case <-j.stopCh:
			return
		}
	}
}

// SweepAll sweeps every namespace once
func (j *Janitor) SweepAll() int {
	total := 0
	for _, ns := range j.namespaces {
		removed := ns.Sweep()
		total += removed
		if j.onSweep != nil {
			j.onSweep(ns.Name(), removed)
		}
	}
	return total
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
}
