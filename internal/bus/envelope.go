package bus

// Status is the closed result status carried by every Envelope.
type Status string

// Envelope statuses. There is no partial state: every response is either
// a success or an error.
const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Envelope is the uniform response shape used across every subsystem, the
// orchestrator, and the request router. It is never partially populated:
// Status and Message are always set; Data is optional.
type Envelope struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success builds a SUCCESS envelope with a human-readable message and
// optional payload.
func Success(message string, data any) Envelope {
	return Envelope{Status: StatusSuccess, Message: message, Data: data}
}

// Error builds an ERROR envelope with a human-readable message.
func Error(message string) Envelope {
	return Envelope{Status: StatusError, Message: message}
}

// IsSuccess reports whether the envelope carries a successful result.
func (e Envelope) IsSuccess() bool {
	return e.Status == StatusSuccess
}
