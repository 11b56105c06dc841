package intercept

import "fmt"

// AttributionError reports a request that needed a virtual host but none
// could be determined. Escalates to the Blocked terminal state; forwarding
// such a request could reach an unintended origin.
type AttributionError struct {
	URL      string
	ClientID string
	Reason   string
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("cannot attribute %q (client %q): %s", e.URL, e.ClientID, e.Reason)
}

// ForwardingError reports a failed or aborted network call to the replay
// server. Surfaced directly as the response to the original requester; this
// layer never retries.
type ForwardingError struct {
	Target string
	Err    error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("forwarding to %q failed: %v", e.Target, e.Err)
}

func (e *ForwardingError) Unwrap() error { return e.Err }
