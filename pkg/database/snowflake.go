package database

import (
	"sync/atomic"
	"time"
)

// Snowflake generates unique, time-ordered 64-bit IDs for journal rows.
// Format: 1 bit (unused) | 41 bits (timestamp) | 10 bits (worker) | 12 bits (sequence)
type Snowflake struct {
	epoch    int64        // Custom epoch in milliseconds
	workerID int64        // 0-1023, unique per server sharing a journal
	state    atomic.Int64 // upper bits = last timestamp, lower 12 bits = sequence
	now      func() int64
}

const (
	workerIDBits   = 10
	sequenceBits   = 12
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
	sequenceMask   = (1 << sequenceBits) - 1 // 4095
	maxWorkerID    = (1 << workerIDBits) - 1 // 1023
)

// NewSnowflake creates a generator. epoch is in Unix milliseconds; an out of
// range workerID falls back to 0.
func NewSnowflake(epoch int64, workerID int64) *Snowflake {
	if workerID < 0 || workerID > maxWorkerID {
		workerID = 0
	}
	return &Snowflake{
		epoch:    epoch,
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// NextID returns the next ID. It never returns the same ID twice, even if the
// clock steps backwards.
func (s *Snowflake) NextID() int64 {
	for {
		old := s.state.Load()
		last := old >> sequenceBits
		seq := old & sequenceMask

		ts := s.now()
		if ts <= last {
			// Same millisecond, or the clock moved backwards: stay on the last
			// timestamp and advance the sequence
			ts = last
			seq = (seq + 1) & sequenceMask
			if seq == 0 {
				// Sequence exhausted, wait for the next millisecond
				for ts <= last {
					ts = s.now()
				}
			}
		} else {
			seq = 0
		}

		if s.state.CompareAndSwap(old, ts<<sequenceBits|seq) {
			return (ts-s.epoch)<<timestampShift | s.workerID<<workerIDShift | seq
		}
	}
}
