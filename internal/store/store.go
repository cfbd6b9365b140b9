package store

import (
	"context"
	"fmt"
	"time"
)

// Count scans the metadata records and returns how many stories exist.
func Count(ctx context.Context, items Items) (int, error) {
	n := 0
	for _, err := range items.IDs() {
		if err != nil {
			return 0, fmt.Errorf("scan metadata: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// ReconcileResult summarizes one Reconcile sweep.
type ReconcileResult struct {
	Kept    int // stories listed in keep and present on disk
	Removed int // stories deleted
}

// Reconcile deletes every story whose id is not in keep and counts the ones
// that remain. Media is removed before metadata so an interrupted sweep leaves
// the story countable and eligible for the next sweep. Ids in keep that are
// not on disk are ignored.
//
// On error the returned result covers only the part of the store visited so
// far; callers must rescan before trusting a count.
func Reconcile(ctx context.Context, items Items, keep map[string]struct{}) (ReconcileResult, error) {
	var res ReconcileResult
	for id, err := range items.IDs() {
		if err != nil {
			return res, fmt.Errorf("scan metadata: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := keep[id]; ok {
			res.Kept++
			continue
		}
		if err := items.RemoveMedia(id); err != nil {
			return res, fmt.Errorf("remove media: %w", err)
		}
		if _, err := items.RemoveMeta(id); err != nil {
			return res, fmt.Errorf("remove meta: %w", err)
		}
		res.Removed++
	}
	return res, nil
}

// SweepOrphans deletes thumbnails and videos whose metadata record is missing
// and that were last modified before cutoff, together with unfinished metadata
// records older than cutoff. It returns the number of files removed.
// Individual removal failures do not stop the sweep; the first one is returned
// once it completes.
func SweepOrphans(ctx context.Context, items MediaItems, cutoff time.Time) (int, error) {
	var (
		removed  int
		firstErr error
	)
	for f, err := range items.Media() {
		if err != nil {
			return removed, fmt.Errorf("scan media: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !f.ModTime.Before(cutoff) {
			continue
		}
		if f.Kind == KindMeta {
			if err := items.RemoveMetaTemp(f.ID); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("remove unfinished meta: %w", err)
				}
				continue
			}
			removed++
			continue
		}
		ok, err := items.HasMeta(f.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			continue
		}
		if err := items.RemoveArtifact(f.Kind, f.ID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove orphan %s: %w", f.Kind, err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
