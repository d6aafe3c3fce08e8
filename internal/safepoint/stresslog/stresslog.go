// Package stresslog implements the per-thread diagnostic ring log that backs
// a thread's stress-log handle.
//
// Each attached thread owns one Log and appends fixed-size records to it from
// its own context only; a diagnostic reader inspects logs after the fact (or
// tolerates racy snapshots of a live thread). Message strings are interned in
// a global depot keyed by FNV-1a hash so a record is four words regardless of
// message length, and identical messages are stored once across all threads.
//
// Record appends never allocate once the message has been interned, which is
// what makes the log usable from runtime paths that must not allocate.
package stresslog

import (
	"sync"
	"time"
)

// ringSize is the number of records a Log retains. Power of two so the
// wrap-around is a mask.
const ringSize = 256

// Record is one diagnostic entry.
type Record struct {
	// When is the append time in nanoseconds since the Unix epoch.
	When int64

	// MsgHash identifies the interned message; resolve with Message.
	MsgHash uint64

	// Args carries up to two raw operand words (pointers, sizes, flags).
	Args [2]uintptr
}

// depot interns message strings across all threads, keyed by FNV-1a hash.
//
// Writes are rare (first use of each distinct message). A plain map under an
// RWMutex keeps the read path free of interface boxing, so looking up an
// already-interned message never allocates.
var depot = struct {
	sync.RWMutex
	m map[uint64]string
}{m: make(map[uint64]string)}

// Log is a single thread's diagnostic ring.
//
// Appends are owner-thread only. Snapshot may be called by a diagnostic
// reader; on a live thread the result is racy and best-effort, on a stopped
// or detached thread it is exact.
type Log struct {
	records [ringSize]Record
	pos     uint32
	count   uint32
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append records a message with up to two operand words.
//
// The message is interned on first use; later appends of the same message
// only hash it.
func (l *Log) Append(msg string, args ...uintptr) {
	h := Intern(msg)

	r := Record{When: time.Now().UnixNano(), MsgHash: h}
	copy(r.Args[:], args)

	l.records[l.pos&(ringSize-1)] = r
	l.pos++
	if l.count < ringSize {
		l.count++
	}
}

// Snapshot returns the retained records, oldest first.
func (l *Log) Snapshot() []Record {
	n := l.count
	out := make([]Record, 0, n)
	start := l.pos - n
	for i := uint32(0); i < n; i++ {
		out = append(out, l.records[(start+i)&(ringSize-1)])
	}
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	return int(l.count)
}

// Intern stores msg in the global depot and returns its hash.
func Intern(msg string) uint64 {
	h := hashMessage(msg)

	depot.RLock()
	_, ok := depot.m[h]
	depot.RUnlock()
	if !ok {
		depot.Lock()
		depot.m[h] = msg
		depot.Unlock()
	}
	return h
}

// Message resolves a record's hash back to its message text. Returns "" for
// an unknown hash.
func Message(hash uint64) string {
	depot.RLock()
	msg := depot.m[hash]
	depot.RUnlock()
	return msg
}

// FNV-1a parameters, per hash/fnv. The fold is inlined over the string so
// hashing a message never allocates.
const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// hashMessage computes the FNV-1a hash of msg.
func hashMessage(msg string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(msg); i++ {
		h ^= uint64(msg[i])
		h *= fnvPrime64
	}
	return h
}
