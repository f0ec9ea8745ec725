package processor

import "time"

// Custom counters of the routing loop, reported under custom_counters.
const (
	CounterRouted        = "messages_routed"
	CounterUnmatched     = "messages_unmatched"
	CounterUnrouted      = "messages_unrouted"
	CounterUndecodable   = "messages_undecodable"
	CounterAbandoned     = "messages_abandoned"
	CounterStreamMatches = "stream_matches"
	CounterStreamReloads = "stream_reloads"
)

// Collector receives the counters of the routing loop. *metrics.Collector
// implements it; implementations must be safe for concurrent use.
type Collector interface {
	RecordReceived()
	RecordPublished()
	RecordError()
	RecordProcessed(latency time.Duration)
	IncrementCustom(name string)
	AddCustom(name string, value uint64)
}

// outcomes records what happened to a message in routing terms.
// The zero value, with a nil Collector, records nothing.
type outcomes struct {
	c Collector
}

func (o outcomes) received() {
	if o.c == nil {
		return
	}
	o.c.RecordReceived()
}

// routed counts a message published to n streams.
func (o outcomes) routed(n int, latency time.Duration) {
	if o.c == nil {
		return
	}
	o.c.RecordPublished()
	o.c.RecordProcessed(latency)
	o.c.IncrementCustom(CounterRouted)
	o.c.AddCustom(CounterStreamMatches, uint64(n))
}

// unmatched counts a message no enabled stream wanted. It is still processed.
func (o outcomes) unmatched(latency time.Duration) {
	if o.c == nil {
		return
	}
	o.c.RecordProcessed(latency)
	o.c.IncrementCustom(CounterUnmatched)
}

// unrouted counts a failed routing attempt; the message stays pending.
func (o outcomes) unrouted() {
	if o.c == nil {
		return
	}
	o.c.RecordError()
	o.c.IncrementCustom(CounterUnrouted)
}

func (o outcomes) undecodable() {
	if o.c == nil {
		return
	}
	o.c.RecordError()
	o.c.IncrementCustom(CounterUndecodable)
}

// deliveryFailed counts a failed publish or index write of a routed message.
func (o outcomes) deliveryFailed() {
	if o.c == nil {
		return
	}
	o.c.RecordError()
}

// abandoned counts a routed message committed without being delivered.
func (o outcomes) abandoned() {
	if o.c == nil {
		return
	}
	o.c.IncrementCustom(CounterAbandoned)
}

func (o outcomes) commitFailed() {
	if o.c == nil {
		return
	}
	o.c.RecordError()
}

func (o outcomes) reloaded() {
	if o.c == nil {
		return
	}
	o.c.IncrementCustom(CounterStreamReloads)
}

func (o outcomes) reloadFailed() {
	if o.c == nil {
		return
	}
	o.c.RecordError()
}
