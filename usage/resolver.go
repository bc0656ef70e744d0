/*
resolver.go - Title Identity Resolver

PURPOSE:
  Maps a canonical row to a stable TitleEntity id, creating the title on
  first sighting. Matching uses the identity key configured for the row's
  report generation.

INVARIANTS:
  - At most one TitleEntity exists per identity key value.
  - An existing TitleEntity is never modified by a later sighting.
  - The platform must already exist in the platform reference table;
    an unknown platform is an error, never an implicit insert.

TIMESTAMPS:
  Created/updated timestamps are the caller-supplied stamp: the report's
  run date when it has one, otherwise the load clock.
*/
package usage

import (
	"context"
	"fmt"
	"time"
)

// Resolution is the outcome of one resolve call.
type Resolution struct {
	TitleID int64
	Created bool
}

// Resolver resolves rows to title ids. Not safe for concurrent use.
type Resolver struct {
	keys      IdentityKeys
	platforms map[string]int64
}

// NewResolver returns a resolver using keys to match titles.
func NewResolver(keys IdentityKeys) *Resolver {
	return &Resolver{keys: keys, platforms: make(map[string]int64)}
}

// Resolve finds or creates the title for row.
func (r *Resolver) Resolve(ctx context.Context, s Store, row CanonicalRow, stamp time.Time) (Resolution, error) {
	platformID, err := r.platformID(ctx, s, row)
	if err != nil {
		return Resolution{}, err
	}

	candidate := TitleFromRow(row, platformID)
	lookup := TitleLookup{Key: r.keys.For(row.Generation), Candidate: candidate}

	id, found, err := s.FindTitle(ctx, lookup)
	if err != nil {
		return Resolution{}, fmt.Errorf("find title at row %d: %w", row.SourceRow, err)
	}
	if found {
		return Resolution{TitleID: id}, nil
	}

	candidate.CreatedAt = stamp
	candidate.UpdatedAt = stamp
	id, err = s.InsertTitle(ctx, candidate)
	if err != nil {
		return Resolution{}, fmt.Errorf("insert title at row %d: %w", row.SourceRow, err)
	}
	return Resolution{TitleID: id, Created: true}, nil
}

func (r *Resolver) platformID(ctx context.Context, s Store, row CanonicalRow) (int64, error) {
	if id, ok := r.platforms[row.Platform]; ok {
		return id, nil
	}
	id, found, err := s.PlatformID(ctx, row.Platform)
	if err != nil {
		return 0, fmt.Errorf("lookup platform %q: %w", row.Platform, err)
	}
	if !found {
		return 0, &UnresolvedPlatformError{Platform: row.Platform, Row: row.SourceRow}
	}
	r.platforms[row.Platform] = id
	return id, nil
}

// TitleFromRow builds the title attributes carried by row.
func TitleFromRow(row CanonicalRow, platformID int64) TitleEntity {
	return TitleEntity{
		Kind:          row.Kind,
		Title:         row.Title,
		Publisher:     row.Publisher,
		PublisherID:   row.PublisherID,
		PlatformID:    platformID,
		DOI:           row.DOI,
		ProprietaryID: row.ProprietaryID,
		ISBN:          row.ISBN,
		PrintISSN:     row.PrintISSN,
		OnlineISSN:    row.OnlineISSN,
		URI:           row.URI,
		YOP:           row.YOP,
	}
}
