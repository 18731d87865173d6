// Package models defines the data structures shared by the ingestion orchestrator.
package models

import (
	"fmt"
	"strings"
)

// SourceTag records where a document came from.
type SourceTag string

const (
	SourceUser            SourceTag = "user"
	SourceOpposingCounsel SourceTag = "opposing_counsel"
	SourceCourt           SourceTag = "court"
)

// ParseSourceTag accepts the canonical names and the backend's "opp_counsel" spelling.
func ParseSourceTag(s string) (SourceTag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return SourceUser, nil
	case "opposing_counsel", "opp_counsel", "opposing-counsel":
		return SourceOpposingCounsel, nil
	case "court":
		return SourceCourt, nil
	default:
		return "", fmt.Errorf("unknown source tag %q (expected user, opposing_counsel or court)", s)
	}
}

// WireValue returns the value the upload endpoint expects in its "source" field.
func (s SourceTag) WireValue() string {
	if s == SourceOpposingCounsel {
		return "opp_counsel"
	}
	if s == "" {
		return string(SourceUser)
	}
	return string(s)
}

// IngestionItem is a single file chosen for upload.
type IngestionItem struct {
	RelativePath       string    // Unique within one submission
	LocalPath          string    // Where the transport reads the content from
	ByteSize           int64
	SourceTag          SourceTag
	RedactionRequested bool
}

// Batch is an ordered group of items submitted in one network call.
type Batch struct {
	Index int
	Items []IngestionItem
}

// Name returns the relative path of the first item, used for "currently uploading" displays.
func (b Batch) Name() string {
	if len(b.Items) == 0 {
		return ""
	}
	return b.Items[0].RelativePath
}

// Bytes returns the total size of the batch.
func (b Batch) Bytes() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.ByteSize
	}
	return total
}
