// Package events publishes the results of processed transactions so that
// observers outside the validator can follow a processor's work.
package events

import "time"

// ResultEvent is emitted after a process response was sent to the validator.
type ResultEvent struct {
	Family        string        `json:"family"`
	Version       string        `json:"version"`
	CorrelationID string        `json:"correlationId"`
	Status        string        `json:"status"`
	Message       string        `json:"message,omitempty"`
	Latency       time.Duration `json:"latencyNs"`
	Timestamp     string        `json:"timestamp"`
}

// DefaultSubject returns the subject results of a family are published on.
func DefaultSubject(family string) string {
	return "sawtooth.tp." + family + ".results"
}
