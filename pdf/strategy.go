package pdf

import (
	"fmt"
	"sync"
)

// Location pins a parse fault to a byte offset, an object number and the
// component that raised it.
type Location struct {
	Offset    int64
	Object    int
	Component string
}

func (l Location) String() string {
	if l.Object > 0 {
		return fmt.Sprintf("%s: obj %d @%d", l.Component, l.Object, l.Offset)
	}
	return fmt.Sprintf("%s: @%d", l.Component, l.Offset)
}

// Strategy decides what happens when the parser hits a recoverable fault.
// OnFault returns nil to continue (the fault was absorbed) or an error to
// abort the operation.
type Strategy interface {
	OnFault(err error, loc Location) error
}

// Strict aborts on every fault.
type Strict struct{}

func (Strict) OnFault(err error, _ Location) error { return err }

// Lenient absorbs faults and records them as warnings. Safe for concurrent
// use; the zero value is ready.
type Lenient struct {
	mu       sync.Mutex
	warnings []string
}

func (l *Lenient) OnFault(err error, loc Location) error {
	l.mu.Lock()
	l.warnings = append(l.warnings, fmt.Sprintf("%s: %v", loc, err))
	l.mu.Unlock()
	return nil
}

// Warnings returns the faults absorbed so far.
func (l *Lenient) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.warnings))
	copy(out, l.warnings)
	return out
}
