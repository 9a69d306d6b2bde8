package psarctype

// ProgressEvent represents a progress update during extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of decoded bytes written for Path.
	BytesDone uint64

	// BytesTotal is the declared uncompressed size of Path.
	BytesTotal uint64

	// FilesDone is the number of entries completed.
	FilesDone int

	// FilesTotal is the total number of entries selected for extraction.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for extraction.
const (
	// StageResolving indicates entry paths are being resolved from the manifest.
	StageResolving ProgressStage = iota

	// StageExtracting indicates an entry is being decoded and written.
	StageExtracting

	// StageExtracted indicates an entry has been committed to its destination.
	StageExtracted
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageResolving:
		return "resolving"
	case StageExtracting:
		return "extracting"
	case StageExtracted:
		return "extracted"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
