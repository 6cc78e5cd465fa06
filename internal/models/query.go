package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned by QueryRequest.Validate when no question was given.
var ErrEmptyQuery = errors.New("query cannot be empty")

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate trims the query and reports ErrEmptyQuery when nothing is left.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	q.SessionID = strings.TrimSpace(q.SessionID)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

// Source identifies where part of an answer came from.
type Source struct {
	Label string `json:"label"`
	Link  string `json:"link,omitempty"`
}

// QueryResponse is the answer to a QueryRequest.
type QueryResponse struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	SessionID string   `json:"session_id"`
}
