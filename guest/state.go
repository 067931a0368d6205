package guest

// State is a step of the begin_conversation state machine.
type State uint8

const (
	StateAwaitingInput State = iota
	StateDecoded
	StateProcessedLocally
	StateInvokingCallback
	StateAwaitingCallbackResult
	StateEncoding
	StateReturning
	StateFailed
)

var stateNames = [...]string{
	StateAwaitingInput:          "awaiting_input",
	StateDecoded:                "decoded",
	StateProcessedLocally:       "processed_locally",
	StateInvokingCallback:       "invoking_callback",
	StateAwaitingCallbackResult: "awaiting_callback_result",
	StateEncoding:               "encoding",
	StateReturning:              "returning",
	StateFailed:                 "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
