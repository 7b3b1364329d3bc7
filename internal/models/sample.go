package models

// Sample identifies one brain volume inside a batch directory layout, with
// the metadata the engine needs to process it.
type Sample struct {
	// ID is the sample directory name, unique within its group
	ID string

	// Group is the group directory name (e.g. the injected nucleus)
	Group string

	// SourceArea is the full structure name of the area the signal was
	// acquired from, derived from the group
	SourceArea string

	// ImagePath is the absolute path of the input volume
	ImagePath string

	// ProjectionsOut is the output path for the projection volume
	ProjectionsOut string

	// ReportOut is the output path for the per-area strength report
	ReportOut string
}

// SampleError records a sample that failed during a batch run.
type SampleError struct {
	Sample Sample
	Err    error
}

// BatchResult summarizes one batch run over a sample directory.
type BatchResult struct {
	// RunID identifies the batch run
	RunID string

	// Processed and Skipped count samples that succeeded and failed
	Processed int
	Skipped   int

	// Failures holds the error for every skipped sample
	Failures []SampleError

	// MeanMass and StdDevMass summarize the total projection mass across
	// the processed samples
	MeanMass   float64
	StdDevMass float64
}
