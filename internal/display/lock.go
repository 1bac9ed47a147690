package display

import "sync"

// Lock is the page-wide "a popup is visible" flag. The display controller is its only
// writer; the mutex lets debug readers on other goroutines observe it safely.
type Lock struct {
	mu     sync.Mutex
	holder string
}

// TryAcquire sets the flag for owner unless it is already held
func (l *Lock) TryAcquire(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false
	}
	l.holder = owner
	return true
}

// Release clears the flag if owner holds it
func (l *Lock) Release(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == "" || l.holder != owner {
		return false
	}
	l.holder = ""
	return true
}

// Holder returns the campaign currently holding the lock
func (l *Lock) Holder() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.holder != ""
}

// Reset clears the flag unconditionally
func (l *Lock) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holder = ""
}
