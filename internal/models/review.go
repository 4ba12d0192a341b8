package models

import "time"

// ProposalStatus is the review-gate state of a proposal. The three
// non-pending states are terminal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalModified ProposalStatus = "modified"
	ProposalRejected ProposalStatus = "rejected"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalApproved || s == ProposalModified || s == ProposalRejected
}

// Suggestion is the advisory output of the tag suggestion service for
// one entity. Confidence is keyed by the suggested value.
type Suggestion struct {
	FolderTags  []string           `json:"folder_tags,omitempty"`
	ContentTags []string           `json:"content_tags,omitempty"`
	Status      map[string]string  `json:"status,omitempty"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
	Summary     string             `json:"summary,omitempty"`
}

// IsEmpty reports whether the suggestion carries nothing actionable.
func (s Suggestion) IsEmpty() bool {
	return len(s.FolderTags) == 0 && len(s.ContentTags) == 0 && len(s.Status) == 0
}

// TagSet converts the suggestion into the tag state it proposes.
func (s Suggestion) TagSet() TagSet {
	t := TagSet{
		FolderTags:  append([]string(nil), s.FolderTags...),
		ContentTags: append([]string(nil), s.ContentTags...),
	}
	if len(s.Status) > 0 {
		t.Status = make(map[string]string, len(s.Status))
		for k, v := range s.Status {
			t.Status[k] = v
		}
	}
	return t
}

// ReviewerAction is the recorded disposition of a proposal, kept for
// audit and for suggestion-quality feedback.
type ReviewerAction struct {
	Status           ProposalStatus    `json:"status"`
	FinalFolderTags  []string          `json:"final_folder_tags,omitempty"`
	FinalContentTags []string          `json:"final_content_tags,omitempty"`
	FinalStatus      map[string]string `json:"final_status,omitempty"`
	RejectReason     string            `json:"reject_reason,omitempty"`
}

// ReviewQueueItem is a proposal awaiting human disposition. At most one
// pending item may exist per entity; a newer proposal for the same
// entity supersedes the pending one in place.
type ReviewQueueItem struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`

	// Observed state the proposal was built from. Title and Content are
	// the layer's observation at detection time; the commit on approval
	// uses them so that content and tags land in one version.
	ObservedTitle       string `json:"observed_title"`
	ObservedContent     string `json:"observed_content"`
	ObservedFingerprint string `json:"observed_fingerprint"`
	ObservedLayer       Layer  `json:"observed_layer"`

	Suggestion     Suggestion      `json:"suggestion"`
	Status         ProposalStatus  `json:"status"`
	ReviewerAction *ReviewerAction `json:"reviewer_action,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReviewedAt     time.Time       `json:"reviewed_at,omitempty"`
}

// ReviewStats holds proposal counts grouped by status.
type ReviewStats struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Modified int64 `json:"modified"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}
