package extract

// ProcessStats contains statistics from an extraction run.
type ProcessStats struct {
	// Processed is the number of entries successfully written to the sink.
	Processed int

	// Skipped is the number of entries skipped (ShouldProcess returned false).
	Skipped int

	// TotalBytes is the number of decoded bytes written for processed entries.
	TotalBytes uint64
}
