package facewatch

// DisplaySink renders a frame and its current events for a human
// operator. Implementations are optional: the pipeline runs fine with
// zero sinks attached.
type DisplaySink interface {
	Show(frame Frame, events []Event) error
	Close() error
}

// NullDisplay discards everything shown to it. It is the default when
// no display sink is configured.
type NullDisplay struct{}

func (NullDisplay) Show(Frame, []Event) error { return nil }
func (NullDisplay) Close() error              { return nil }

// MultiDisplay fans a single Show/Close call out to every sink it
// wraps, so a deployment can run, say, both a local preview window and
// a websocket feed at once.
type MultiDisplay struct {
	Sinks []DisplaySink
}

func (m MultiDisplay) Show(frame Frame, events []Event) error {
	var firstErr error
	for _, sink := range m.Sinks {
		if err := sink.Show(frame, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiDisplay) Close() error {
	var firstErr error
	for _, sink := range m.Sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
