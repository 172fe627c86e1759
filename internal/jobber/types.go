// Package jobber provides the client for the field-service platform's
// GraphQL API.
package jobber

import (
	"strings"
	"time"
)

// VisitGraph is the snapshot of a visit and its surrounding job data used by
// the follow-up pipeline.
type VisitGraph struct {
	ID            string
	Title         string
	CompletedAt   *time.Time
	EndAt         *time.Time
	Job           Job
	Client        Customer
	Property      Property
	Notes         []Note
	AssignedUsers []string
}

// Job carries the work order the visit belongs to.
type Job struct {
	ID        string
	JobNumber int
	Title     string
	LineItems []LineItem
}

// LineItem is a billable line on the job.
type LineItem struct {
	Name        string
	Description string
}

// Customer is the client the visit was performed for.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Emails    []EmailAddress
}

// EmailAddress is one of the customer's addresses.
type EmailAddress struct {
	Address string
	Primary bool
}

// Property is the service location.
type Property struct {
	Street     string
	City       string
	Province   string
	PostalCode string
}

// Note is a free-form note attached to the job or visit. CreatedAt is kept
// as the raw API string; the classifier owns timestamp parsing.
type Note struct {
	Message   string
	CreatedAt string
}

// Name returns the customer's display name.
func (c Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// PrimaryEmail returns the address flagged primary, falling back to the
// first one. Empty when the customer has no addresses.
func (c Customer) PrimaryEmail() string {
	for _, e := range c.Emails {
		if e.Primary {
			return e.Address
		}
	}
	if len(c.Emails) > 0 {
		return c.Emails[0].Address
	}
	return ""
}

// Location returns a short human-readable service location.
func (p Property) Location() string {
	parts := make([]string, 0, 2)
	if p.Street != "" {
		parts = append(parts, p.Street)
	}
	if p.City != "" {
		parts = append(parts, p.City)
	}
	return strings.Join(parts, ", ")
}

// CompletionTime returns the best-known completion timestamp: completedAt
// when present, otherwise the scheduled end.
func (v VisitGraph) CompletionTime() *time.Time {
	if v.CompletedAt != nil {
		return v.CompletedAt
	}
	return v.EndAt
}
