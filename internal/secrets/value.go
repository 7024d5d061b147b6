// Package secrets resolves stack secret bindings against an opened
// credential store.
//
// Decrypted values live in Value buffers allocated outside the Go heap via
// mmap, locked against swap where the process is allowed to (mlock) and
// excluded from core dumps. Close zeroes and unmaps the memory. Callers own
// every Value and Env they receive and must close it once the executor
// invocation that consumes it has returned.
package secrets

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Value holds one decrypted secret. A Value must not be copied.
type Value struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// NewValue copies source into protected memory and zeroes source.
func NewValue(source []byte) (*Value, error) {
	if len(source) == 0 {
		return &Value{}, nil
	}

	data, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secrets: mmap failed: %w", err)
	}

	v := &Value{data: data}
	// mlock fails under a small RLIMIT_MEMLOCK (common in containers); the
	// value is still kept off the Go heap and zeroed on Close.
	if err := unix.Mlock(data); err == nil {
		v.locked = true
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	copy(v.data, source)
	Zero(source)
	return v, nil
}

// NewValueFromString copies s into protected memory. The string itself
// cannot be wiped, so prefer NewValue where the caller owns a byte slice.
func NewValueFromString(s string) (*Value, error) {
	return NewValue([]byte(s))
}

// Bytes returns the secret. The slice points into protected memory and must
// not be retained past Close. Panics after Close.
func (v *Value) Bytes() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		panic("secrets: read from closed value")
	}
	return v.data
}

// String returns a heap copy of the secret for APIs that need a string,
// such as a child process environment. Panics after Close.
func (v *Value) String() string {
	return string(v.Bytes())
}

// Len returns the size of the secret.
func (v *Value) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.data)
}

// Locked reports whether the memory is pinned against swap.
func (v *Value) Locked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locked
}

// Closed reports whether Close has been called.
func (v *Value) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close zeroes and releases the memory. Close is idempotent.
func (v *Value) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	if v.data == nil {
		return nil
	}

	Zero(v.data)

	var firstErr error
	if v.locked {
		if err := unix.Munlock(v.data); err != nil {
			firstErr = fmt.Errorf("secrets: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(v.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secrets: munmap failed: %w", err)
	}
	v.data = nil
	return firstErr
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
