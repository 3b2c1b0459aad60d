package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldJobID       = "job_id"
	FieldChannelID   = "channel_id"
	FieldConnectorID = "connector_id"
	FieldSystemID    = "system_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldCycle     = "cycle"

	// Data fields
	FieldTable    = "table"
	FieldChannels = "channels"
	FieldRecords  = "records"
	FieldState    = "state"

	// Path / address fields
	FieldPath    = "path"
	FieldAddress = "address"
)
