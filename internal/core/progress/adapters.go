package progress

// Record is the live progress document the backend writes to the store, keyed
// by job key. The engine only ever reads it. PartialTranscript appears once
// the job passes the transcribed stage.
type Record struct {
	Status            string `json:"status"`
	Progress          int    `json:"progress"`
	Message           string `json:"message,omitempty"`
	PartialTranscript string `json:"partial_transcript,omitempty"`
}

// PollResponse is the slimmer shape the backend's progress-by-locator
// endpoint returns.
type PollResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// FromRecord normalizes a live store document. Anything unrecognized maps to
// not_started: a half-written document means "not yet available", never error.
func FromRecord(r Record) State {
	return normalize(r.Status, r.Progress, r.Message)
}

// FromPoll normalizes a polling endpoint response.
func FromPoll(p PollResponse) State {
	return normalize(p.Status, p.Progress, p.Message)
}

func normalize(status string, pct int, message string) State {
	s := Status(status)
	if !s.Known() {
		s = StatusNotStarted
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return State{Status: s, Progress: pct, Message: message}
}
