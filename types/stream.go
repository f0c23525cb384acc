package types

// StreamEventKind discriminates streaming response events.
type StreamEventKind int

const (
	// EventToken carries one sanitized text fragment.
	EventToken StreamEventKind = iota
	// EventEnd marks normal stream completion.
	EventEnd
	// EventError marks abnormal termination. No further events follow.
	EventError
)

// String returns the event kind name for logs.
func (k StreamEventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one event on a streaming response channel.
// A well-formed stream is zero or more Token events terminated by exactly
// one End or one Error event.
type StreamEvent struct {
	Kind  StreamEventKind
	Token string
	Err   *Error
}

// TokenEvent creates a token event.
func TokenEvent(token string) StreamEvent {
	return StreamEvent{Kind: EventToken, Token: token}
}

// EndEvent creates the normal completion event.
func EndEvent() StreamEvent {
	return StreamEvent{Kind: EventEnd}
}

// ErrorEvent creates the abnormal termination event.
func ErrorEvent(err *Error) StreamEvent {
	return StreamEvent{Kind: EventError, Err: err}
}
