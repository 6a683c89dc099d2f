package relay

// Fanout delivers a payload to the participants of a session. LocalFanout
// serves a single process; a broker-backed implementation can replace it
// when the relay runs on several nodes.
type Fanout interface {
	// Publish sends payload to every participant except exclude (0 for
	// none) and returns how many connections accepted it.
	Publish(sessionID, exclude uint, payload []byte) int
}

// LocalFanout delivers through an in-process Registry. Participants without
// a live connection are skipped; there is no queueing or retry.
type LocalFanout struct {
	registry *Registry
}

// NewLocalFanout creates a LocalFanout over registry.
func NewLocalFanout(registry *Registry) *LocalFanout {
	return &LocalFanout{registry: registry}
}

func (f *LocalFanout) Publish(sessionID, exclude uint, payload []byte) int {
	delivered := 0
	for _, userID := range f.registry.Participants(sessionID) {
		if userID == exclude {
			continue
		}
		p := f.registry.Client(userID)
		if p == nil {
			continue
		}
		if p.Send(payload) {
			delivered++
		}
	}
	return delivered
}
