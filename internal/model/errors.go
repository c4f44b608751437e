package model

// DetectionError is a typed failure of the detection engine
type DetectionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *DetectionError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrEmptyBaseline = &DetectionError{Type: "empty_baseline", Message: "no baseline lines available", Code: 2001}
	ErrBuildFailed   = &DetectionError{Type: "build_failed", Message: "model build failed", Code: 2002}
	ErrIncompatible  = &DetectionError{Type: "incompatible_model", Message: "incompatible model encoding", Code: 2003}
	ErrCorruptModel  = &DetectionError{Type: "corrupt_model", Message: "corrupt model encoding", Code: 2004}
	ErrInvalidConfig = &DetectionError{Type: "invalid_config", Message: "invalid detection configuration", Code: 2005}
)
