package models

import "time"

// SessionResponse is one multiplexed transport session held by the
// session pool.
type SessionResponse struct {
	Origin        string    `json:"origin"`
	Scheme        string    `json:"scheme"`
	PrivacyMode   bool      `json:"privacy_mode"`
	Binding       string    `json:"binding"`
	Protocol      string    `json:"protocol"`
	State         string    `json:"state"`
	ActiveStreams int       `json:"active_streams"`
	AliveSince    time.Time `json:"alive_since"`
}

// SessionPoolResponse lists every live session the pool currently holds.
type SessionPoolResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int                `json:"count"`
}
