package auth

// Flow names reported to a Recorder.
const (
	FlowLogin        = "login"
	FlowRefresh      = "refresh"
	FlowLogout       = "logout"
	FlowResetRequest = "reset_request"
	FlowReset        = "reset"
	FlowAuthorize    = "authorize"
)

// Outcome names reported to a Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeReuse   = "reuse"
	OutcomeError   = "error"
)

// Recorder receives flow outcomes, typically to feed metrics.
type Recorder interface {
	Outcome(flow, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(string, string) {}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsBusinessError(err):
		return OutcomeDenied
	default:
		return OutcomeError
	}
}
