package models

import "time"

// PinSetResponse is one configured public-key pin set.
type PinSetResponse struct {
	Hostname          string    `json:"hostname"`
	IncludeSubdomains bool      `json:"include_subdomains"`
	SPKIHashes        []string  `json:"spki_hashes"`
	ExpiresAt         time.Time `json:"expires_at,omitempty"`
}

// PinsResponse lists every hostname currently carrying a pin set.
type PinsResponse struct {
	Hostnames []string `json:"hostnames"`
	Count     int      `json:"count"`
}
