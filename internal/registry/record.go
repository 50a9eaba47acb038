// Package registry holds the durable member registry: an in-memory map of
// directory usernames to cached profile data, persisted as a JSON snapshot
// with crash-safe replacement and coalesced writes.
package registry

import "regexp"

var (
	keyPattern      = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	ownerRefPattern = regexp.MustCompile(`^[0-9]{17,20}$`)
)

// Record is the cached profile for one tracked username.
// OwnerRef is set at creation and never rewritten; DisplayName is refreshed
// by reconciliation.
type Record struct {
	DisplayName string `json:"displayName"`
	OwnerRef    string `json:"discordId"`
}

// Member pairs a key with its record, for ordered listings.
type Member struct {
	Key string
	Record
}

// ValidKey reports whether key is a well-formed directory username.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ValidOwnerRef reports whether ref is a well-formed owner reference.
func ValidOwnerRef(ref string) bool {
	return ownerRefPattern.MatchString(ref)
}
