package service

// Message types pushed to run subscribers
const (
	MsgTurnState    = "turn_state"
	MsgRunCompleted = "run_completed"
)

// Broadcaster pushes run events to WebSocket subscribers (avoids import cycle)
type Broadcaster interface {
	BroadcastRunEvent(runID string, msgType string, payload interface{})
	CloseRun(runID string)
}
