package app

// StopReason says why the app is shutting down. It is logged on Stop.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopOperator   StopReason = "operator"
	StopSignal     StopReason = "signal"
	StopInputEOF   StopReason = "input_eof"
	StopFatalError StopReason = "fatal_error"
)
