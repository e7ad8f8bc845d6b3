// Package types provides common type definitions for the bid poller.
package types

import "strings"

// SiteCode identifies an auction site implementation (e.g. "asi3")
type SiteCode string

const (
	// SiteASI3 is the BidSpotter / ASI3 timed-lot site
	SiteASI3 SiteCode = "asi3"
)

// NormalizeSite lower-cases and trims a site code so "ASI3 " and "asi3" match
func NormalizeSite(site string) SiteCode {
	return SiteCode(strings.ToLower(strings.TrimSpace(site)))
}

func (s SiteCode) String() string {
	return string(s)
}

// JobStatus represents the state of a polling job
type JobStatus string

const (
	// JobStatusActive means the auction is presumed ongoing
	JobStatusActive JobStatus = "active"
	// JobStatusFinished is terminal: no further polling
	JobStatusFinished JobStatus = "finished"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
