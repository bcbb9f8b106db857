// Package model defines shared data structures for the listing service.
package model

import (
	"math"
	"time"
)

// Listing mirrors a row of the jobs table. Rows are written once by the
// ingestion pipeline and never updated.
type Listing struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	DatePosted  string    `json:"date_posted"`
	CreatedAt   time.Time `json:"-"`
}

// Key returns the deduplication key of the listing.
func (l Listing) Key() DedupKey {
	return DedupKey{Title: l.Title, Company: l.Company, Location: l.Location}
}

// DedupKey is the (title, company, location) triple. Two listings with the
// same key are the same posting.
type DedupKey struct {
	Title    string
	Company  string
	Location string
}

// Candidate is a normalised offer returned by the provider, before the
// dedup check. Absent provider fields are empty strings.
type Candidate struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Link        string `json:"link"`
	PublishedAt string `json:"publishedAt"`
}

// Key returns the deduplication key of the candidate.
func (c Candidate) Key() DedupKey {
	return DedupKey{Title: c.Title, Company: c.Company, Location: c.Location}
}

// ToListing converts the candidate into a listing first seen at createdAt.
func (c Candidate) ToListing(createdAt time.Time) Listing {
	return Listing{
		Title:       c.Title,
		Company:     c.Company,
		Location:    c.Location,
		Description: c.Description,
		URL:         c.Link,
		DatePosted:  c.PublishedAt,
		CreatedAt:   createdAt,
	}
}

// Run mirrors a row of the scheduled_runs table: one entry per ingestion
// cycle that reached the provider.
type Run struct {
	ID           int64     `json:"id"`
	RunTime      time.Time `json:"runTime"`
	APICallsMade int       `json:"apiCallsMade"`
	Success      bool      `json:"success"`
}

// ListingQuery describes one page of the public listing API.
type ListingQuery struct {
	Text  string // case-insensitive substring of title; empty matches all
	Page  int    // 1-based
	Limit int
}

// Offset returns the number of rows skipped before the requested page. It
// saturates at math.MaxInt, which selects an empty page.
func (q ListingQuery) Offset() int {
	if q.Page < 1 || q.Limit < 1 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// ListingPage is one page of listings plus the total match count.
type ListingPage struct {
	Items []Listing
	Total int
}
