package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Event types, also used as routing keys
	EventTypeBookAdded    = "book.added"
	EventTypeBookReduced  = "book.reduced"
	EventTypeBookDeleted  = "book.deleted"
	EventTypeLoanIssued   = "loan.issued"
	EventTypeLoanReturned = "loan.returned"

	eventVersion = "1.0.0"
)

// Event represents a domain event
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventVersion  string                 `json:"event_version"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// New builds an event envelope with a fresh ID, stamped at occurredAt.
func New(eventType string, occurredAt time.Time, payload map[string]interface{}) Event {
	return Event{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: eventVersion,
		Timestamp:    occurredAt.UTC().Format(time.RFC3339),
		Payload:      payload,
	}
}

// BookAdded is emitted when an administrator adds a title
func BookAdded(bookID uint, title string, total int, at time.Time) Event {
	return New(EventTypeBookAdded, at, map[string]interface{}{
		"book_id": bookID,
		"title":   title,
		"total":   total,
	})
}

// BookReduced is emitted when copies are withdrawn from circulation
func BookReduced(bookID uint, qty, remaining int, at time.Time) Event {
	return New(EventTypeBookReduced, at, map[string]interface{}{
		"book_id":   bookID,
		"qty":       qty,
		"remaining": remaining,
	})
}

// BookDeleted is emitted when a title is removed from the catalog
func BookDeleted(bookID uint, at time.Time) Event {
	return New(EventTypeBookDeleted, at, map[string]interface{}{
		"book_id": bookID,
	})
}

// LoanIssued is emitted when a student borrows a copy
func LoanIssued(loanID, bookID, studentID uint, issuedAt time.Time) Event {
	return New(EventTypeLoanIssued, issuedAt, map[string]interface{}{
		"loan_id":    loanID,
		"book_id":    bookID,
		"student_id": studentID,
		"issued_at":  issuedAt.UTC().Format(time.RFC3339),
	})
}

// LoanReturned is emitted when a loan is closed, carrying the assessed fine
func LoanReturned(loanID, bookID, studentID uint, returnedAt time.Time, days int, fine int64) Event {
	return New(EventTypeLoanReturned, returnedAt, map[string]interface{}{
		"loan_id":     loanID,
		"book_id":     bookID,
		"student_id":  studentID,
		"returned_at": returnedAt.UTC().Format(time.RFC3339),
		"days":        days,
		"fine":        fine,
	})
}
