package log

// Common structured field names used across the service.
const (
	FieldService  = "service"
	FieldClientID = "client_id"
	FieldUserID   = "user_id"
	FieldRoom     = "room"
	FieldPeer     = "peer"
)
