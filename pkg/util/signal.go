package util

import "sync"

type SigHandler func(sender any, params ...any)

// Signals is a tiny in-process event bus used to decouple side effects
// (listeners) from the code that triggers them.
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]SigHandler
}

var defaultSignals = NewSignals()

func NewSignals() *Signals {
	return &Signals{handlers: make(map[string][]SigHandler)}
}

func Sig() *Signals { return defaultSignals }

func (s *Signals) Connect(name string, h SigHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = append(s.handlers[name], h)
}

func (s *Signals) Emit(name string, sender any, params ...any) {
	s.mu.RLock()
	hs := append([]SigHandler(nil), s.handlers[name]...)
	s.mu.RUnlock()
	for _, h := range hs {
		h(sender, params...)
	}
}

func (s *Signals) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
}
