package modgen

// ProgressEvent is a progress update during batch generation.
type ProgressEvent struct {
	// Stage identifies the current phase.
	Stage ProgressStage

	Subject string
	Variant int
	Name    string

	// Done is the number of variants finished so far, successful or not.
	Done int

	// Total is the number of variants in the batch. Zero while scanning.
	Total int

	// Err is set for StageFailed.
	Err error
}

// ProgressStage identifies the current phase of a batch.
type ProgressStage uint8

const (
	// StageScanning indicates the source archive is being read.
	StageScanning ProgressStage = iota

	// StageGenerating indicates a variant package is being built.
	StageGenerating

	// StageGenerated indicates a variant package was written.
	StageGenerated

	// StageFailed indicates a variant failed; the batch continues.
	StageFailed

	// StageComplete indicates the batch finished.
	StageComplete
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageGenerating:
		return "generating"
	case StageGenerated:
		return "generated"
	case StageFailed:
		return "failed"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates. It may be called from the batch
// goroutine started by StartGenerateAll.
type ProgressFunc func(ProgressEvent)
