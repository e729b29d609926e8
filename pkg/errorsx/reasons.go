package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonRecognizeConnect  ReasonCode = "recognize_connect"
	ReasonRecognizeSend     ReasonCode = "recognize_send"
	ReasonRecognizeProtocol ReasonCode = "recognize_protocol"
	ReasonRecognizeService  ReasonCode = "recognize_service"
	ReasonRecognizeClosed   ReasonCode = "recognize_closed"

	ReasonConfigInvalid ReasonCode = "config_invalid"
	ReasonAuthMissing   ReasonCode = "auth_missing"

	ReasonSourceOpen                ReasonCode = "source_open"
	ReasonSourceBusy                ReasonCode = "source_busy"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
)
