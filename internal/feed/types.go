package feed

import (
	"fmt"
	"strings"
)

// Alert is one active alert as served by the GlobalEAS feed. Fields mirror
// the upstream JSON; absent fields decode to zero values.
type Alert struct {
	Hash           string `json:"hash"`
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	Originator     string `json:"originator"`
	Severity       string `json:"severity"`
	Translation    string `json:"translation"`
	AudioURL       string `json:"audioUrl"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	StartTimeEpoch int64  `json:"startTimeEpoch"`
}

// Identifier returns the stable dedup key for the alert: the feed hash when
// present, otherwise a composite of id and start epoch. Two alerts with the
// same identifier are the same alert.
func (a Alert) Identifier() string {
	if h := strings.TrimSpace(a.Hash); h != "" {
		return h
	}
	return fmt.Sprintf("%d-%d", a.ID, a.StartTimeEpoch)
}
