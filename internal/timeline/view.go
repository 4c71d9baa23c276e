package timeline

import (
	"context"
	"sort"
)

// List returns the case timeline with conflict resolutions applied, newest
// event first and ties in insertion order.
func (s *Service) List(ctx context.Context, caseID string) ([]Entry, error) {
	entries, err := s.Repo.ListEntries(ctx, caseID)
	if err != nil {
		return nil, err
	}
	resolutions, err := s.Repo.ListResolutions(ctx, caseID)
	if err != nil {
		return nil, err
	}
	out := applyResolutions(entries, resolutions)
	sortForDisplay(out)
	return out, nil
}

func sortForDisplay(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EventDate.Equal(entries[j].EventDate) {
			return entries[i].EventDate.After(entries[j].EventDate)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// applyResolutions rewrites conflict pairs according to reviewer decisions.
// Each resolution is keyed on the alternative entry of its pair.
func applyResolutions(entries []Entry, resolutions []Resolution) []Entry {
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		byID[e.ID] = i
	}
	hidden := make(map[string]bool)
	settled := make(map[string]bool)

	for _, r := range resolutions {
		ai, ok := byID[r.EntryID]
		if !ok {
			continue
		}
		alt := &entries[ai]
		pi, ok := byID[alt.RelatedEntryID]
		if !ok {
			continue
		}
		primary := &entries[pi]
		settled[alt.ID] = true
		clearConflict(alt)

		// Decisions name the official side, wherever it sits in the pair.
		kept, other := primary, alt
		if alt.Source == SourceOfficialFeed && primary.Source != SourceOfficialFeed {
			kept, other = alt, primary
		}

		switch r.Resolution {
		case ResolutionKeepOfficial:
			hidden[other.ID] = true
		case ResolutionUseAlternative:
			hidden[kept.ID] = true
		case ResolutionMergeManual:
			hidden[other.ID] = true
			if r.Manual != nil {
				if !r.Manual.EventDate.IsZero() {
					kept.EventDate = dateOnly(r.Manual.EventDate)
				}
				if r.Manual.EventType != "" {
					kept.EventType = r.Manual.EventType
				}
				if r.Manual.Description != "" {
					kept.Description = r.Manual.Description
				}
			}
		case ResolutionKeepBoth:
		}
	}

	// A primary stays flagged while any of its alternatives is unresolved.
	open := make(map[string]bool)
	for _, e := range entries {
		if e.RelatedEntryID != "" && e.HasConflict && !settled[e.ID] {
			open[e.RelatedEntryID] = true
		}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if hidden[e.ID] {
			continue
		}
		if e.HasConflict && e.RelatedEntryID == "" && !open[e.ID] && hasSettledAlternative(entries, e.ID, settled) {
			clearConflict(&e)
		}
		out = append(out, e)
	}
	return out
}

func hasSettledAlternative(entries []Entry, primaryID string, settled map[string]bool) bool {
	for _, e := range entries {
		if e.RelatedEntryID == primaryID && settled[e.ID] {
			return true
		}
	}
	return false
}

func clearConflict(e *Entry) {
	e.HasConflict = false
	e.ConflictDetails = nil
}

// ResolveInput is a reviewer's decision on one conflict.
type ResolveInput struct {
	Resolution ResolutionKind
	Manual     *ManualValues
	ResolvedBy string
	Note       string
}

// ResolveConflict records a decision for the conflict containing entryID.
// Resolving again overwrites the earlier decision.
func (s *Service) ResolveConflict(ctx context.Context, caseID, entryID string, in ResolveInput) (Resolution, error) {
	if !in.Resolution.Valid() {
		return Resolution{}, ErrInvalidResolution
	}
	if in.Resolution == ResolutionMergeManual && in.Manual == nil {
		return Resolution{}, ErrInvalidResolution
	}
	entries, err := s.Repo.ListEntries(ctx, caseID)
	if err != nil {
		return Resolution{}, err
	}
	altID, err := conflictAlternative(entries, entryID)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		CaseID:     caseID,
		EntryID:    altID,
		Resolution: in.Resolution,
		Manual:     in.Manual,
		ResolvedBy: in.ResolvedBy,
		Note:       in.Note,
		ResolvedAt: s.now(),
	}
	if res.Manual != nil && !res.Manual.EventDate.IsZero() {
		m := *res.Manual
		m.EventDate = dateOnly(m.EventDate)
		res.Manual = &m
	}
	if err := s.Repo.UpsertResolution(ctx, res); err != nil {
		return Resolution{}, err
	}
	return res, nil
}

// conflictAlternative maps either side of a conflict pair to the alternative entry.
func conflictAlternative(entries []Entry, entryID string) (string, error) {
	var target *Entry
	for i := range entries {
		if entries[i].ID == entryID {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return "", ErrEntryNotFound
	}
	if target.RelatedEntryID != "" && target.HasConflict {
		return target.ID, nil
	}
	var alts []string
	for _, e := range entries {
		if e.RelatedEntryID == entryID && e.HasConflict {
			alts = append(alts, e.ID)
		}
	}
	switch len(alts) {
	case 0:
		return "", ErrNotAConflict
	case 1:
		return alts[0], nil
	default:
		return "", ErrAmbiguousConflict
	}
}
