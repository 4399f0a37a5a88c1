package overlay

import "sync"

// DefaultLogSize is the default capacity of a session log in bytes.
const DefaultLogSize = 4096

// RingBuffer is a fixed-size circular buffer holding the most recent bytes
// written to it. New writes overwrite the oldest data when the buffer is
// full.
//
// All methods are safe for concurrent use.
type RingBuffer struct {
	mutex    sync.Mutex
	data     []byte
	capacity int
	// writePosition is the next position to write within the circular buffer
	// (0 to capacity-1).
	writePosition int
	// totalWritten is the total number of bytes ever written.
	totalWritten uint64
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultLogSize
	}
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends bytes, overwriting the oldest data if the buffer is full.
// It never fails.
func (ring *RingBuffer) Write(data []byte) (int, error) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	n := len(data)
	// Only the tail of an oversized write can survive.
	if len(data) > ring.capacity {
		skipped := len(data) - ring.capacity
		ring.writePosition = (ring.writePosition + skipped) % ring.capacity
		ring.totalWritten += uint64(skipped)
		data = data[skipped:]
	}

	for offset := 0; offset < len(data); {
		available := ring.capacity - ring.writePosition
		copyLength := min(len(data)-offset, available)
		copy(ring.data[ring.writePosition:ring.writePosition+copyLength], data[offset:offset+copyLength])
		ring.writePosition = (ring.writePosition + copyLength) % ring.capacity
		offset += copyLength
	}
	ring.totalWritten += uint64(len(data))
	return n, nil
}

// WriteString appends s.
func (ring *RingBuffer) WriteString(s string) (int, error) {
	return ring.Write([]byte(s))
}

// Bytes returns a copy of the retained bytes, oldest first.
func (ring *RingBuffer) Bytes() []byte {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	stored := min(ring.totalWritten, uint64(ring.capacity))
	result := make([]byte, stored)
	if stored < uint64(ring.capacity) {
		copy(result, ring.data[:stored])
		return result
	}
	n := copy(result, ring.data[ring.writePosition:])
	copy(result[n:], ring.data[:ring.writePosition])
	return result
}

func (ring *RingBuffer) String() string {
	return string(ring.Bytes())
}

// Written returns the total number of bytes ever written.
func (ring *RingBuffer) Written() uint64 {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.totalWritten
}
