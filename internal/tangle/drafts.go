package tangle

import "context"

// EventDraft is a not-yet-signed outbound change record computed from
// current relational state. Drafts are transient: they are either discarded
// (no signer for the author) or signed, published, and re-ingested.
type EventDraft struct {
	Kind    int
	Author  string // hex public key
	Tags    [][]string
	Content string

	// CreatedAt is a unix-seconds timestamp; zero means "now" at sign time.
	CreatedAt int64
}

// DTag returns the draft's "d" tag value, or "" when absent.
func (d EventDraft) DTag() string {
	for _, tag := range d.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return ""
}

// DraftSource computes the pending drafts for one farm as a pure function
// of current relational state.
type DraftSource interface {
	PendingDrafts(ctx context.Context, farm *Farm) ([]EventDraft, error)
}
