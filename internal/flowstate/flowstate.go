// Package flowstate implements the flow recorder: per-flow byte/packet
// counters keyed by the 5-tuple flow key, and a pluggable SMALL/BULK
// classification policy, since the classification rule is a judgment
// call rather than a fixed threshold worth hardcoding.
package flowstate

import "sync"

// Classification is the flow-state tracker's two-way split.
type Classification int

const (
	SMALL Classification = iota
	BULK
)

func (c Classification) String() string {
	if c == BULK {
		return "BULK"
	}
	return "SMALL"
}

// FlowState is the per-flow record.
type FlowState struct {
	FirstSeenTick  uint64
	ByteCount      uint64
	PacketCount    uint64
	Classification Classification
}

// Policy classifies a flow given its running state. Implementations are
// called with the recorder's own mutex held, so they must not block or
// re-enter the Recorder.
type Policy interface {
	Classify(s *FlowState) Classification
}

// ThresholdPolicy is the default policy: a flow becomes BULK once its
// cumulative byte count exceeds Bytes, or once its packet count exceeds
// Packets, whichever comes first, and never reverts to SMALL afterwards
// (matching the "flow state accumulates" framing of the other recorded
// fields). This is a resolved design decision, not a derivation from the
// original sources: see the design notes for the reasoning.
type ThresholdPolicy struct {
	Bytes   uint64
	Packets uint64
}

// DefaultThresholdPolicy mirrors the Collector's own default
// coding_threshold (30000 bytes) so that, absent other configuration, a
// flow graduates to BULK around the same volume that triggers a forced
// buffer flush.
func DefaultThresholdPolicy() ThresholdPolicy {
	return ThresholdPolicy{Bytes: 30000, Packets: 64}
}

func (p ThresholdPolicy) Classify(s *FlowState) Classification {
	if s.Classification == BULK {
		return BULK
	}
	if s.ByteCount > p.Bytes || s.PacketCount > p.Packets {
		return BULK
	}
	return SMALL
}

// Recorder tracks FlowState per flow key under a single mutex.
type Recorder struct {
	mu     sync.Mutex
	policy Policy
	flows  map[string]*FlowState
}

// New constructs a Recorder with the given classification policy. A nil
// policy falls back to DefaultThresholdPolicy.
func New(policy Policy) *Recorder {
	if policy == nil {
		policy = DefaultThresholdPolicy()
	}
	return &Recorder{policy: policy, flows: make(map[string]*FlowState)}
}

// Update records one packet of size bytes for flowKey at the given tick,
// creating the flow record on first sight, and returns the flow's
// classification after the update.
func (r *Recorder) Update(flowKey string, size int, tick uint64) Classification {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.flows[flowKey]
	if !ok {
		s = &FlowState{FirstSeenTick: tick}
		r.flows[flowKey] = s
	}
	s.ByteCount += uint64(size)
	s.PacketCount++
	s.Classification = r.policy.Classify(s)
	return s.Classification
}

// NeedsCoding reports whether flowKey's current classification calls for
// the batching/coding path (BULK) rather than direct passthrough (SMALL).
// Unknown flows default to false (SMALL): a flow must be seen via Update
// at least once before it is considered for coding.
func (r *Recorder) NeedsCoding(flowKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.flows[flowKey]
	if !ok {
		return false
	}
	return s.Classification == BULK
}

// Lookup returns a copy of flowKey's current FlowState and whether it
// exists.
func (r *Recorder) Lookup(flowKey string) (FlowState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.flows[flowKey]
	if !ok {
		return FlowState{}, false
	}
	return *s, true
}

// Size returns the number of tracked flows.
func (r *Recorder) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
