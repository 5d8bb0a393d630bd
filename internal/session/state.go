package session

// State of a recognition session
type State int32

const (
	Idle State = iota
	Starting
	Streaming
	// Restarting overlaps Streaming: the old sub-stream keeps taking audio
	// while its replacement opens.
	Restarting
	Finalizing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Restarting:
		return "restarting"
	case Finalizing:
		return "finalizing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason is reported to the client in session_stopped
type StopReason string

const (
	ReasonManual              StopReason = "manually stopped"
	ReasonDurationLimit       StopReason = "duration limit reached"
	ReasonDisconnected        StopReason = "disconnected"
	ReasonAuthFailed          StopReason = "authentication failed"
	ReasonProviderUnavailable StopReason = "provider unavailable"
	ReasonReplaced            StopReason = "replaced"
)

// Fragment is one transcript update. Generation identifies the sub-stream
// that produced it; Stale is set when that sub-stream no longer receives
// audio (its tail after a restart or finalize). A silence finalize commits
// its utterance through such a tail, so stale finals are real results.
type Fragment struct {
	Text       string
	IsFinal    bool
	Language   string
	Generation uint64
	Stale      bool
}

// Sink receives everything a session reports. Calls come from the session's
// event loop, one at a time and in order; implementations must not block.
type Sink interface {
	Started(sessionID, language string)
	Transcript(sessionID string, f Fragment)
	TimeRemaining(sessionID string, minutes int)
	Error(sessionID string, err error)
	Stopped(sessionID string, reason StopReason)
}
