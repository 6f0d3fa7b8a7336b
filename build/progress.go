package build

// Phase identifies a stage of the build pipeline.
type Phase string

const (
	// PhaseSequences is Phase A: AVIS encoding of sequence groups.
	PhaseSequences Phase = "sequences"
	// PhaseImages is Phase B: scatter AVIF encoding.
	PhaseImages Phase = "images"
	// PhaseWrite is the output phase: artifacts, verbatim copies, manifest.
	PhaseWrite Phase = "write"
)

// EventKind discriminates progress events.
type EventKind int

const (
	EventPhaseStart EventKind = iota
	EventTaskDone
	EventPhaseEnd
	EventWarning
)

// Event is a structured progress report. Done and Total count source
// images across the encode phases; byte counters compare the source bytes
// of a finished task against its encoded size.
type Event struct {
	Kind            EventKind
	Phase           Phase
	Done            int
	Total           int
	OriginalBytes   int64
	CompressedBytes int64
	Message         string
}

// Sink receives progress events. It is invoked from the scheduler
// goroutine only, never from workers, so implementations need no locking
// against the build.
type Sink func(Event)
