package orchestrator

// State is a step of a distribution run.
type State string

const (
	StateIdle        State = "idle"
	StateConfigCheck State = "config_check"
	StateCycleCheck  State = "cycle_check"
	StateClaiming    State = "claiming"
	StateSettling    State = "settling"
	StateMeasuring   State = "measuring"
	StateDisbursing  State = "disbursing"
	StateRecording   State = "recording"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}
