package types

import (
	"fmt"
	"time"
)

// Category labels assigned by the classifier. The taxonomy is fixed; the
// zero-shot inference call receives exactly these candidate labels.
const (
	CategoryInterested    = "Interested"
	CategoryMeetingBooked = "Meeting Booked"
	CategoryNotInterested = "Not Interested"
	CategorySpam          = "Spam"
	CategoryOutOfOffice   = "Out of Office"
	CategoryUncategorized = "Uncategorized"
)

// Categories is the candidate label set handed to the inference service.
// Uncategorized is deliberately absent: it is the no-confidence outcome,
// never a candidate.
var Categories = []string{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
}

// RawMessage is a message as fetched from the mail server, before parsing.
type RawMessage struct {
	SeqNum       uint32
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Email is the canonical normalized record produced by the parser and
// enriched by the classifier before indexing.
type Email struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	HTML      string    `json:"html,omitempty"`
	Folder    string    `json:"folder"`
	Account   string    `json:"account"`
	UID       uint32    `json:"uid"`
	Category  string    `json:"category"`
}

// DedupKey identifies the logical message: two emails sharing this key must
// resolve to a single indexed document.
func (e *Email) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", e.MessageID, e.Account, e.Folder)
}

// ClassificationResult is the outcome of a single classification, whether it
// came from the inference service or the keyword fallback.
type ClassificationResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// CycleResult summarizes one fetch cycle for an account.
type CycleResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// IndexedDocument is an Email as stored in the search index, with the
// index-internal row identifier and write timestamp.
type IndexedDocument struct {
	Email
	ID        int64     `json:"id"`
	IndexedAt time.Time `json:"indexed_at"`
}
