package tangle

import (
	"context"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Summary is the outcome of one SyncAll run. It is computed per call and
// never persisted.
type Summary struct {
	Total          int
	Published      int
	Failed         int
	Skipped        int
	MissingSigners []string
}

// SyncAll computes every farm's pending drafts, dedupes them, signs each
// draft with its author's secret key, publishes to the given relays, and
// ingests the signed event through the same path inbound events take.
//
// There is no rollback: events published and ingested before a failure
// stay. When any draft fails or lacks a signer, the summary is returned
// together with a *SyncError wrapping it.
func (s *Service) SyncAll(ctx context.Context, relays []string, signers []string, publishTimeout time.Duration) (*Summary, error) {
	relays = normalizeRelays(relays)
	if len(relays) == 0 || len(signers) == 0 {
		return nil, ErrInvalidResponse
	}

	signerByPub := buildSigners(signers)
	if len(signerByPub) == 0 {
		return nil, ErrInvalidResponse
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}

	farms, err := s.listFarmsLocked(ctx)
	if err != nil {
		return nil, err
	}

	drafts, err := s.collectDrafts(ctx, farms)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(drafts)}
	for _, draft := range drafts {
		seckey, ok := signerByPub[draft.Author]
		if !ok {
			summary.Skipped++
			summary.MissingSigners = appendUnique(summary.MissingSigners, draft.Author)
			continue
		}

		event, err := s.signDraft(draft, seckey)
		if err != nil {
			s.logger.Warn("signing draft failed", "author", draft.Author, "kind", draft.Kind, "error", err)
			summary.Failed++
			continue
		}

		if err := s.publisher.Publish(ctx, event, relays, publishTimeout); err != nil {
			s.logger.Warn("publishing event failed", "event_id", event.ID, "error", err)
			summary.Failed++
			continue
		}
		if err := s.ingestLocked(ctx, event); err != nil {
			s.logger.Warn("ingesting published event failed", "event_id", event.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.Published++
	}

	s.logger.Info("sync finished",
		"total", summary.Total,
		"published", summary.Published,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	if summary.Failed > 0 || len(summary.MissingSigners) > 0 {
		return summary, &SyncError{Summary: *summary}
	}
	return summary, nil
}

// collectDrafts gathers pending drafts across farms and dedupes them by
// (kind, author, d-tag) according to the configured policy. Insertion order
// of the first occurrence is preserved either way.
func (s *Service) collectDrafts(ctx context.Context, farms []*Farm) ([]EventDraft, error) {
	type draftKey struct {
		kind   int
		author string
		d      string
	}

	var order []draftKey
	byKey := make(map[draftKey]EventDraft)

	for _, farm := range farms {
		pending, err := s.drafts.PendingDrafts(ctx, farm)
		if err != nil {
			return nil, mapEngineErr("computing drafts", err)
		}
		for _, draft := range pending {
			key := draftKey{kind: draft.Kind, author: draft.Author, d: draft.DTag()}
			if _, seen := byKey[key]; !seen {
				order = append(order, key)
				byKey[key] = draft
				continue
			}
			if s.cfg.dedupe() == LastWins {
				byKey[key] = draft
			}
		}
	}

	drafts := make([]EventDraft, 0, len(order))
	for _, key := range order {
		drafts = append(drafts, byKey[key])
	}
	return drafts, nil
}

func (s *Service) signDraft(draft EventDraft, seckey string) (*nostr.Event, error) {
	createdAt := draft.CreatedAt
	if createdAt == 0 {
		createdAt = s.clock.Now().Unix()
	}

	tags := make(nostr.Tags, 0, len(draft.Tags))
	for _, tag := range draft.Tags {
		tags = append(tags, nostr.Tag(tag))
	}

	event := &nostr.Event{
		Kind:      draft.Kind,
		PubKey:    draft.Author,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
		Content:   draft.Content,
	}
	if err := event.Sign(seckey); err != nil {
		return nil, err
	}
	return event, nil
}

// normalizeRelays trims, drops empties, and dedupes while keeping order.
func normalizeRelays(relays []string) []string {
	seen := make(map[string]bool, len(relays))
	out := make([]string, 0, len(relays))
	for _, relay := range relays {
		relay = strings.TrimSpace(relay)
		if relay == "" || seen[relay] {
			continue
		}
		seen[relay] = true
		out = append(out, relay)
	}
	return out
}

// buildSigners maps public key to secret key, accepting hex and nsec
// encodings and silently dropping anything unparsable.
func buildSigners(signers []string) map[string]string {
	byPub := make(map[string]string, len(signers))
	for _, raw := range signers {
		seckey := strings.TrimSpace(raw)
		if seckey == "" {
			continue
		}
		if strings.HasPrefix(seckey, "nsec") {
			prefix, value, err := nip19.Decode(seckey)
			if err != nil || prefix != "nsec" {
				continue
			}
			decoded, ok := value.(string)
			if !ok {
				continue
			}
			seckey = decoded
		}
		pubkey, err := nostr.GetPublicKey(seckey)
		if err != nil {
			continue
		}
		byPub[pubkey] = seckey
	}
	return byPub
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
