package model

// PathInfo describes one declared route of the hosting application.
type PathInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// StartupPayload carries one-time application metadata to the Hub.
type StartupPayload struct {
	InstanceUUID string            `json:"instance_uuid"`
	MessageUUID  string            `json:"message_uuid"`
	Paths        []PathInfo        `json:"paths"`
	Versions     map[string]string `json:"versions"`
	Client       string            `json:"client"`
}

// SyncPayload carries the counters drained for one sync tick.
// Timestamp is Unix seconds as a float.
type SyncPayload struct {
	Timestamp        float64                `json:"timestamp"`
	InstanceUUID     string                 `json:"instance_uuid"`
	MessageUUID      string                 `json:"message_uuid"`
	Requests         []RequestsItem         `json:"requests"`
	ValidationErrors []ValidationErrorsItem `json:"validation_errors"`
	ServerErrors     []ServerErrorsItem     `json:"server_errors"`
	Consumers        []Consumer             `json:"consumers"`
}
