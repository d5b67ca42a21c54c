package ingestion

// RunRequest is the body of a run command, over HTTP or Kafka.
type RunRequest struct {
	Source  string `json:"source,omitempty"`
	Since   string `json:"since,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// FromEventData reads a RunRequest out of an event's data map.
func FromEventData(data map[string]interface{}) RunRequest {
	str := func(key string) string {
		if v, ok := data[key].(string); ok {
			return v
		}
		return ""
	}
	return RunRequest{
		Source:  str("source"),
		Since:   str("since"),
		Profile: str("profile"),
	}
}
