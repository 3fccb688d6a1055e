package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Relay
	FieldRoomID    = "room_id"
	FieldClientID  = "client_id"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"
	FieldInstance  = "instance_id"

	// Service
	FieldService = "service"
)
