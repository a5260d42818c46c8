package ai

import (
	"context"
	"regexp"
	"strings"
)

var meetingKeywords = []string{
	"schedule a meeting", "schedule a call", "set up a meeting", "set up a call",
	"book a meeting", "quick sync", "hop on a call", "meet next", "meet on",
	"meeting next", "meeting on", "could we meet",
}

var followUpKeywords = []string{"following up", "follow up", "circling back", "checking in"}

var timeHintRe = regexp.MustCompile(`\b(\d{1,2}(:\d{2})?\s?(am|pm)|monday|tuesday|wednesday|thursday|friday|tomorrow|next week)\b`)

// Heuristic is the keyword-based fallback parser used when no model API
// key is configured. It keeps the whole pipeline exercisable offline.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// ParseEmail classifies the body by keyword matching
func (h *Heuristic) ParseEmail(ctx context.Context, bodyText string) (Result, error) {
	lower := strings.ToLower(bodyText)

	for _, kw := range meetingKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}

		confidence := 0.75
		var datetime string
		if hint := timeHintRe.FindString(lower); hint != "" {
			confidence = 0.85
			datetime = hint
		}

		return Result{Success: true, Data: &ParsedData{
			Intent:     IntentScheduleMeeting,
			Datetime:   datetime,
			Confidence: confidence,
			Reasoning:  "matched meeting keyword \"" + kw + "\"",
		}}, nil
	}

	for _, kw := range followUpKeywords {
		if strings.Contains(lower, kw) {
			return Result{Success: true, Data: &ParsedData{
				Intent:     IntentFollowUp,
				Confidence: 0.6,
				Reasoning:  "matched follow-up keyword \"" + kw + "\"",
			}}, nil
		}
	}

	return Result{Success: true, Data: &ParsedData{
		Intent:     IntentInformation,
		Confidence: 0.4,
		Reasoning:  "no meeting or follow-up keywords",
	}}, nil
}
