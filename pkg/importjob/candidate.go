package importjob

import "time"

// Identity is the minimal reference to a candidate entity before its detail is fetched.
type Identity struct {
	// ID is the upstream id, unique within a job.
	ID string `json:"id"`

	// Label is a human-readable handle (login, slug).
	Label string `json:"label,omitempty"`

	// Ref locates the detail resource, usually an API URL.
	Ref string `json:"ref,omitempty"`
}

// String returns the label when set, otherwise the id.
func (i Identity) String() string {
	if i.Label != "" {
		return i.Label
	}
	return i.ID
}

// CandidatePage is the persisted resume context: the identities listed for one page.
type CandidatePage struct {
	Page int `json:"page"`

	// Base is the job's processed count when the cursor entered this page.
	Base int `json:"base"`

	Identities []Identity `json:"identities"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Offset returns the index of the next unprocessed identity on the page.
func (p *CandidatePage) Offset(processed int) int {
	off := processed - p.Base
	if off < 0 {
		return 0
	}
	return off
}

// Result classifies how a single item ended.
type Result string

const (
	ResultImported Result = "imported"
	ResultMerged   Result = "merged"
	ResultSkipped  Result = "skipped"
	ResultError    Result = "error"
)

// Outcome is one entry of the transient activity log.
type Outcome struct {
	Identity Identity  `json:"identity"`
	Result   Result    `json:"result"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}
