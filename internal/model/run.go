package model

// RunStatus is the final outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailure RunStatus = "failure"
)
