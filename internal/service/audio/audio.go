// Package audio wraps the external metadata/search provider (YouTube Data
// API). It serves both the track search endpoint and the resolver's
// candidate search.
package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/resolve"
)

var (
	typeQuery      = "video"
	id             = "id"
	snippet        = "snippet"
	contentDetails = "contentDetails"
)

type ServiceAudio struct {
	youtube *youtube.Service
	limit   int64
	limiter *rate.Limiter
}

func NewServiceAudio(token string, limit int64, rps float64) (*ServiceAudio, error) {
	ctx := context.Background()
	service, err := youtube.NewService(ctx, option.WithAPIKey(token))
	if err != nil {
		return nil, err
	}

	return &ServiceAudio{
		youtube: service,
		limit:   limit,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

type result struct {
	videoID  string
	title    string
	duration time.Duration
}

// lookup runs a ranked search and backfills durations with a second batched
// contentDetails call, preserving the search order.
func (s *ServiceAudio) lookup(ctx context.Context, query string) ([]result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	searchCall := s.youtube.Search.List([]string{id, snippet}).Q(query).Type(typeQuery).MaxResults(s.limit).Context(ctx)
	response, err := searchCall.Do()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(response.Items))
	for i, item := range response.Items {
		ids[i] = item.Id.VideoId
	}

	durations := make(map[string]time.Duration)
	if len(ids) > 0 {
		videoCall := s.youtube.Videos.List([]string{contentDetails}).Id(strings.Join(ids, ",")).Context(ctx)
		respVideo, err := videoCall.Do()
		if err != nil {
			return nil, err
		}

		for _, item := range respVideo.Items {
			d, err := duration.Parse(item.ContentDetails.Duration)
			if err != nil {
				return nil, err
			}
			durations[item.Id] = d.ToTimeDuration()
		}
	}

	results := make([]result, len(response.Items))
	for i, item := range response.Items {
		results[i] = result{
			videoID:  item.Id.VideoId,
			title:    item.Snippet.Title,
			duration: durations[item.Id.VideoId],
		}
	}
	return results, nil
}

// GetListTrack serves user-facing track search. The video id doubles as the
// external track reference for rooms fed directly from search results.
func (s *ServiceAudio) GetListTrack(ctx context.Context, query string) ([]*dto.Track, error) {
	results, err := s.lookup(ctx, query)
	if err != nil {
		return nil, err
	}

	tracks := make([]*dto.Track, len(results))
	for i, r := range results {
		tracks[i] = &dto.Track{
			ID:         r.videoID,
			Name:       r.title,
			DurationMs: r.duration.Milliseconds(),
		}
	}
	return tracks, nil
}

// Search implements resolve.Searcher.
func (s *ServiceAudio) Search(ctx context.Context, query string) ([]resolve.Candidate, error) {
	results, err := s.lookup(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	candidates := make([]resolve.Candidate, len(results))
	for i, r := range results {
		candidates[i] = resolve.Candidate{
			ID:       r.videoID,
			Title:    r.title,
			Duration: r.duration,
		}
	}
	return candidates, nil
}
