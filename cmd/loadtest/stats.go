package main

import (
	"sync/atomic"
	"time"
)

// Stats tracks load test results
type Stats struct {
	bound             atomic.Int64
	handshakeFailures atomic.Int64
	connectionErrors  atomic.Int64
	totalHandshake    atomic.Int64 // in microseconds

	requests     atomic.Int64
	cancels      atomic.Int64
	gives        atomic.Int64
	sendFailures atomic.Int64

	// Close reasons other than a voluntary Goodbye
	disconnections atomic.Int64
}

func (s *Stats) recordBound(handshake time.Duration) {
	s.bound.Add(1)
	s.totalHandshake.Add(handshake.Microseconds())
}

func (s *Stats) recordOperation(op operation, err error) {
	if err != nil {
		s.sendFailures.Add(1)
		return
	}
	switch op {
	case opRequest:
		s.requests.Add(1)
	case opCancel:
		s.cancels.Add(1)
	case opGive:
		s.gives.Add(1)
	}
}

func (s *Stats) operations() int64 {
	return s.requests.Load() + s.cancels.Load() + s.gives.Load()
}

// avgHandshake returns the mean time from dial to bound
func (s *Stats) avgHandshake() time.Duration {
	bound := s.bound.Load()
	if bound == 0 {
		return 0
	}
	return time.Duration(s.totalHandshake.Load()/bound) * time.Microsecond
}
