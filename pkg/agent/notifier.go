package agent

// notificationPreviewLimit bounds tool results carried in notifications.
const notificationPreviewLimit = 500

// Notifier is the run's observable side channel. Notifications never
// affect control flow; implementations must not block for long.
type Notifier interface {
	// Text delivers one chunk of assistant text as it arrives.
	Text(chunk string)
	// ToolStart fires before a tool executes.
	ToolStart(name string, input map[string]interface{})
	// ToolDone fires after a tool executes, with a truncated result preview.
	ToolDone(name string, result string)
	// Error fires when a transport failure aborts the run.
	Error(err error)
	// Done fires once with the complete result.
	Done(result RunResult)
}

// notify wraps a possibly-nil Notifier so the runner never branches on it
type notify struct {
	n Notifier
}

func (s notify) Text(chunk string) {
	if s.n != nil {
		s.n.Text(chunk)
	}
}

func (s notify) ToolStart(name string, input map[string]interface{}) {
	if s.n != nil {
		s.n.ToolStart(name, input)
	}
}

func (s notify) ToolDone(name, result string) {
	if s.n != nil {
		s.n.ToolDone(name, previewResult(result))
	}
}

func (s notify) Error(err error) {
	if s.n != nil {
		s.n.Error(err)
	}
}

func (s notify) Done(result RunResult) {
	if s.n != nil {
		s.n.Done(result)
	}
}

func previewResult(result string) string {
	runes := []rune(result)
	if len(runes) <= notificationPreviewLimit {
		return result
	}
	return string(runes[:notificationPreviewLimit]) + "..."
}
