package progress

// Status is one stage of the remote analysis pipeline. Values are ordered so
// "have we passed this stage" is a numeric comparison.
type Status string

const (
	StatusNotStarted       Status = "not_started"
	StatusStarting         Status = "starting"
	StatusDownloading      Status = "downloading"
	StatusDownloaded       Status = "downloaded"
	StatusTranscribing     Status = "transcribing"
	StatusTranscribed      Status = "transcribed"
	StatusAnalyzing        Status = "analyzing"
	StatusCreatingTimeline Status = "creating_timeline"
	StatusSummarizing      Status = "summarizing"
	StatusComplete         Status = "complete"
	StatusError            Status = "error"
)

var ranks = map[Status]int{
	StatusNotStarted:       -1,
	StatusStarting:         0,
	StatusDownloading:      1,
	StatusDownloaded:       2,
	StatusTranscribing:     3,
	StatusTranscribed:      4,
	StatusAnalyzing:        5,
	StatusCreatingTimeline: 6,
	StatusSummarizing:      7,
	StatusComplete:         8,
	StatusError:            999,
}

// Rank returns the numeric order of a status. Unknown statuses rank as
// not_started so a junk payload never advances the display.
func (s Status) Rank() int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return ranks[StatusNotStarted]
}

func (s Status) Known() bool { _, ok := ranks[s]; return ok }

// Terminal reports whether no further automatic progress is expected.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusError }

// State is the one authoritative progress value for a job. Progress is a UI
// hint only; control decisions branch on Status alone.
type State struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

func Initial() State {
	return State{Status: StatusNotStarted, Progress: 0}
}

func Errorf(message string) State {
	return State{Status: StatusError, Progress: 0, Message: message}
}

// StepState classifies a pipeline step relative to the current status.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepUpcoming  StepState = "upcoming"
)

// VisibleSteps are the stages surfaced to the frontend, in pipeline order.
var VisibleSteps = []Status{
	StatusDownloading,
	StatusTranscribing,
	StatusAnalyzing,
	StatusCreatingTimeline,
	StatusComplete,
}

// StepStatus derives the display state of one step. Complete marks every step
// done regardless of rank.
func StepStatus(step, current Status) StepState {
	switch {
	case current == step:
		return StepCurrent
	case current == StatusComplete:
		return StepCompleted
	case current.Rank() > step.Rank():
		return StepCompleted
	default:
		return StepUpcoming
	}
}

// StepView is the serialized step list returned by the progress endpoint.
type StepView struct {
	Step  Status    `json:"step"`
	State StepState `json:"state"`
}

func Steps(current Status) []StepView {
	out := make([]StepView, 0, len(VisibleSteps))
	for _, step := range VisibleSteps {
		state := StepUpcoming
		if current != StatusNotStarted {
			state = StepStatus(step, current)
		}
		out = append(out, StepView{Step: step, State: state})
	}
	return out
}
