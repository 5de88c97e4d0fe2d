package events

import "time"

// StatusReport is a periodic availability summary mailed to operators.
type StatusReport struct {
	TotalServers        int       `json:"totalServers"`
	UpServers           int       `json:"upServers"`
	DownServers         int       `json:"downServers"`
	TotalIncidentsToday int       `json:"totalIncidentsToday"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

// Healthy reports whether every monitored server is up.
func (r StatusReport) Healthy() bool {
	return r.DownServers == 0
}
