package audit

import (
	"errors"
	"strings"
	"time"
)

// Record is one audit event. Before and After hold the explicit state captured
// by the caller around the change; Details carries anything else worth keeping.
type Record struct {
	ID      int64          `json:"id,omitempty"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Module  string         `json:"module"`
	RefID   int64          `json:"ref_id,omitempty"`
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// Validate checks the fields every record needs.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Action) == "" || strings.TrimSpace(r.Module) == "" {
		return errors.New("audit: record requires action and module")
	}
	return nil
}

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Module   string
	Action   string
	RefID    int64
	Page     int
	PageSize int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a page of records.
type Result struct {
	Rows   []Record   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
