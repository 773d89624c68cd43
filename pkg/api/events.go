package api

// CommitSource identifies what produced a commit.
type CommitSource string

const (
	SourceSet      CommitSource = "set"
	SourceDebounce CommitSource = "debounce"
	SourceUndo     CommitSource = "undo"
	SourceRedo     CommitSource = "redo"
	SourceReset    CommitSource = "reset"
	SourceSync     CommitSource = "sync"
	SourceLoad     CommitSource = "load"
)

// CommitEvent describes a commit for observers. It carries no value;
// subscribers see values.
type CommitEvent struct {
	ContainerID string
	Key         string
	Source      CommitSource
	HistoryLen  int
	RedoLen     int
}
