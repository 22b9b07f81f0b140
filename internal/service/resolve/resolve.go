// Package resolve maps external track references to playable audio ids,
// caching successful resolutions in sqlite.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

// ErrNoPlayableAudio means the search provider returned no candidates.
// Callers surface this as "track unavailable", never as a fatal error.
var ErrNoPlayableAudio = errors.New("no playable audio found for track")

// DurationTolerance is how far a candidate's duration may deviate from the
// track's expected duration and still count as a match.
const DurationTolerance = 5 * time.Second

// Candidate is one result from the external search provider, ranked by
// relevance (index 0 is the provider's top pick).
type Candidate struct {
	ID       string
	Title    string
	Duration time.Duration
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Resolver is the audio resolution cache: store hit first, then a search
// with duration matching, persisting the winner before returning it.
type Resolver struct {
	store    *Store
	searcher Searcher
	logger   *log.Logger
}

func NewResolver(store *Store, searcher Searcher, logger *log.Logger) *Resolver {
	return &Resolver{store: store, searcher: searcher, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, track dto.Track) (string, error) {
	playableID, err := r.store.Lookup(track.ID)
	if err == nil {
		r.logger.Debugf("resolution cache hit: %s", track.Name)
		return playableID, nil
	}
	if !errors.Is(err, ErrMappingNotFound) {
		return "", err
	}

	query := fmt.Sprintf("%s %s audio", track.Name, track.Artist)
	r.logger.Infof("resolving %q (target %dms)", query, track.DurationMs)

	candidates, err := r.searcher.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(candidates) == 0 {
		return "", ErrNoPlayableAudio
	}

	selected := pickCandidate(candidates, time.Duration(track.DurationMs)*time.Millisecond)
	r.logger.Infof("selected %q for %q", selected.Title, track.Name)

	m := Mapping{
		TrackID:    track.ID,
		PlayableID: selected.ID,
		Name:       track.Name,
		Artist:     track.Artist,
	}
	if err := r.store.Save(m); err != nil {
		return "", err
	}

	return selected.ID, nil
}

// pickCandidate returns the most relevant candidate within duration
// tolerance, falling back to the top-ranked result when none is close:
// relevance trumps exact duration when no close match exists.
func pickCandidate(candidates []Candidate, expected time.Duration) Candidate {
	for _, c := range candidates {
		if c.Duration == 0 {
			continue
		}
		diff := c.Duration - expected
		if diff < 0 {
			diff = -diff
		}
		if diff <= DurationTolerance {
			return c
		}
	}
	return candidates[0]
}

// StartSweeper prunes idle mappings on a ticker until ctx is done.
func (r *Resolver) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.PruneIdle(ttl)
			if err != nil {
				r.logger.Errorf("mapping sweep failed: %v", err)
				continue
			}
			if n > 0 {
				r.logger.Infof("pruned %d idle song mappings", n)
			}
		}
	}
}
