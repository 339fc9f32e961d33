package app

import (
	"context"
	"encoding/json"
	"fmt"

	"tanglestore/internal/tangle"
)

// FarmListingKind is the replaceable event kind carrying a farm's public
// listing; the farm id is its "d" tag identity.
const FarmListingKind = 30317

// FarmDrafts derives the pending outbound events for a farm from its
// relational state. Pure: same farm row, same drafts.
type FarmDrafts struct{}

var _ tangle.DraftSource = (*FarmDrafts)(nil)

// NewFarmDrafts creates the default draft source.
func NewFarmDrafts() *FarmDrafts { return &FarmDrafts{} }

func (FarmDrafts) PendingDrafts(_ context.Context, farm *tangle.Farm) ([]tangle.EventDraft, error) {
	if farm.PubKey == "" {
		// A farm without an identity has nothing publishable.
		return nil, nil
	}

	content, err := json.Marshal(map[string]string{
		"name":  farm.Name,
		"about": farm.About,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding farm listing: %w", err)
	}

	return []tangle.EventDraft{{
		Kind:    FarmListingKind,
		Author:  farm.PubKey,
		Tags:    [][]string{{"d", farm.ID}},
		Content: string(content),
	}}, nil
}
