package agent

// RunParams are the inputs to one agent run
type RunParams struct {
	// Message is the user's input for this run.
	Message string
	// SessionID resumes an existing conversation; empty creates a new one.
	SessionID string
	// MaxTurns caps backend turns for this run; 0 uses the runner default.
	MaxTurns int
	// Stream requests incremental delivery from the backend when supported.
	Stream bool
	// SystemPrompt is passed through to the backend as an opaque string.
	SystemPrompt string
	// Notify receives progress notifications; may be nil.
	Notify Notifier
}

// RunStop is the terminal state of a run
type RunStop string

const (
	// StopTextOnly means the backend concluded with a text-only turn.
	StopTextOnly RunStop = "text_only"
	// StopMaxTurns means the turn budget was exhausted while the backend
	// kept requesting tools.
	StopMaxTurns RunStop = "max_turns_reached"
)

// RunResult is the outcome of one agent run
type RunResult struct {
	// Text is the final assistant text.
	Text string
	// ToolsUsed lists tool names in invocation order across all turns.
	ToolsUsed []string
	// SessionID identifies the conversation, created or resumed.
	SessionID string
	// Stop is the terminal state the run reached.
	Stop RunStop
	// Turns is the number of backend turns performed.
	Turns int
}
