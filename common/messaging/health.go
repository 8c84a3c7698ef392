package messaging

// HealthStatus reports the state of a broker connection.
type HealthStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckClientHealth reports whether client is usable. A nil client means
// messaging is disabled, which is healthy.
func CheckClientHealth(client Client) HealthStatus {
	if client == nil {
		return HealthStatus{}
	}
	status := HealthStatus{Enabled: true, Connected: client.IsConnected()}
	if !status.Connected {
		status.Error = "not connected to message broker"
	}
	return status
}
