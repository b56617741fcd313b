package relay

import "sync"

// flights tracks which sessions have a relay task in flight.
type flights struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newFlights() *flights {
	return &flights{ids: make(map[string]struct{})}
}

// acquire marks sessionID as in flight. The returned release is safe to
// call more than once; only the first call has an effect.
func (f *flights) acquire(sessionID string) (release func(), err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.ids[sessionID]; busy {
		return nil, ErrSessionBusy
	}
	f.ids[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.ids, sessionID)
			f.mu.Unlock()
		})
	}, nil
}

func (f *flights) busy(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[sessionID]
	return ok
}

func (f *flights) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
