package valueobject

// StopReason is the structured terminal outcome of a session/prompt call.
type StopReason string

const (
	StopEndTurn          StopReason = "end_turn"
	StopCancelled        StopReason = "cancelled"
	StopRefusal          StopReason = "refusal"
	StopMaxTokens        StopReason = "max_tokens"
	StopMaxTurnRequests  StopReason = "max_turn_requests"
)
