package pipeline

// State is a pipeline stage.
type State string

const (
	StateInit      State = "init"
	StateChecks    State = "checks"
	StateVersion   State = "version"
	StateChangelog State = "changelog"
	StateGit       State = "git"
	StateGithub    State = "github"
	StateCI        State = "ci"
	StateJsr       State = "jsr"
	StateComplete  State = "complete"

	// StateFixing and StateError are entered from any stage.
	StateFixing State = "fixing"
	StateError  State = "error"
)

// Observer is told about every state change.
type Observer interface {
	OnState(state State, detail string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state State, detail string)

func (f ObserverFunc) OnState(state State, detail string) { f(state, detail) }
