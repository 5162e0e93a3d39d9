package vm

import (
	"sync"
	"time"
)

// Collector is the host collector integration: gc-enabled instances are
// tracked from allocation until deallocation.
type Collector interface {
	Track(obj *Object)
	Untrack(obj *Object)
	IsTracked(obj *Object) bool
}

// CollectStats holds statistics from a single collection.
type CollectStats struct {
	Tracked     int // tracked instances before the collection
	Unreachable int // instances found only in unreachable cycles
	Freed       int // instances deallocated as a result
	Duration    time.Duration
	Timestamp   time.Time
}

// TrackingCollector is the default Collector. Besides tracking it can
// reclaim reference cycles among tracked instances.
type TrackingCollector struct {
	vm      *VM
	mu      sync.Mutex
	tracked map[*Object]struct{}

	collections uint64
	last        *CollectStats
}

// NewTrackingCollector creates a collector for vm's instances.
func NewTrackingCollector(vm *VM) *TrackingCollector {
	return &TrackingCollector{
		vm:      vm,
		tracked: make(map[*Object]struct{}),
	}
}

// Track registers obj.
func (c *TrackingCollector) Track(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[obj] = struct{}{}
}

// Untrack removes obj.
func (c *TrackingCollector) Untrack(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracked, obj)
}

// IsTracked reports whether obj is registered.
func (c *TrackingCollector) IsTracked(obj *Object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tracked[obj]
	return ok
}

// Count returns the number of tracked instances.
func (c *TrackingCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

// Collections returns the number of completed collections.
func (c *TrackingCollector) Collections() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collections
}

// LastStats returns the statistics of the most recent collection, or nil.
func (c *TrackingCollector) LastStats() *CollectStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Collect finds tracked instances that are referenced only from other
// tracked instances, and breaks those cycles by clearing them.
//
// Every tracked instance starts with its reference count; each reference
// from one tracked instance to another is subtracted. Instances left with a
// positive count are held from outside and, with everything they reach,
// survive. The rest are cleared.
func (c *TrackingCollector) Collect() CollectStats {
	start := time.Now()

	c.mu.Lock()
	candidates := make([]*Object, 0, len(c.tracked))
	for obj := range c.tracked {
		if !obj.dead {
			candidates = append(candidates, obj)
		}
	}
	c.mu.Unlock()

	external := make(map[*Object]int, len(candidates))
	for _, obj := range candidates {
		external[obj] = obj.RefCount()
	}
	for _, obj := range candidates {
		obj.ForEachReference(func(child *Object) {
			if _, ok := external[child]; ok {
				external[child]--
			}
		})
	}

	reachable := make(map[*Object]bool, len(candidates))
	var stack []*Object
	for _, obj := range candidates {
		if external[obj] > 0 {
			reachable[obj] = true
			stack = append(stack, obj)
		}
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		obj := stack[n]
		stack = stack[:n]
		obj.ForEachReference(func(child *Object) {
			if _, ok := external[child]; ok && !reachable[child] {
				reachable[child] = true
				stack = append(stack, child)
			}
		})
	}

	var unreachable []*Object
	for _, obj := range candidates {
		if !reachable[obj] {
			unreachable = append(unreachable, obj)
		}
	}

	freedBefore := c.vm.freed.Load()
	// Hold every unreachable instance while the cycles are broken, so
	// none is deallocated half-cleared.
	for _, obj := range unreachable {
		obj.refcnt++
	}
	for _, obj := range unreachable {
		c.vm.weakrefs.clearFor(obj)
		obj.clearRefs(release)
	}
	for _, obj := range unreachable {
		c.vm.decref(obj)
	}

	stats := CollectStats{
		Tracked:     len(candidates),
		Unreachable: len(unreachable),
		Freed:       int(c.vm.freed.Load() - freedBefore),
		Duration:    time.Since(start),
		Timestamp:   start,
	}
	c.mu.Lock()
	c.collections++
	c.last = &stats
	c.mu.Unlock()

	if stats.Unreachable > 0 {
		c.vm.log.Infof("collected %d unreachable record instances (%d tracked, %d freed) in %s",
			stats.Unreachable, stats.Tracked, stats.Freed, stats.Duration)
	}
	return stats
}
