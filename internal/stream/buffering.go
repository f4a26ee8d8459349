package stream

// Signals are the independently sourced inputs of the buffering state. The
// engine and the element each own their own fields; neither ever writes the
// other's.
type Signals struct {
	Started        bool
	ManifestParsed bool
	Retrying       bool
	EngineStalled  bool
	ElementWaiting bool
}

// DeriveBuffering computes the buffering state from the latest signals. It
// depends only on current values, never on the order they arrived in.
func DeriveBuffering(s Signals) BufferingState {
	switch {
	case !s.Started:
		return Idle
	case !s.ManifestParsed || s.Retrying:
		return Loading
	case s.EngineStalled || s.ElementWaiting:
		return Buffering
	default:
		return Ready
	}
}
