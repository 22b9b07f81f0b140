package syncengine

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Deepesh-Tiwari/Rhythm/internal/dto"
)

// ErrAutoplayBlocked is returned by a Player whose environment refuses to
// start audio without a user gesture. The engine surfaces this as the
// Blocked state instead of failing silently.
var ErrAutoplayBlocked = errors.New("autoplay blocked, user gesture required")

// Player is the local audio element the engine drives.
type Player interface {
	Load(playableID string)
	SeekTo(seconds float64)
	Play() error
	Pause()
	Stop()
	Position() float64
}

type State int

const (
	StateIdle State = iota
	StateScheduled
	StatePlaying
	StatePaused
	StateBlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBlocked:
		return "blocked"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	// DriftThreshold is the max tolerated offset from the anchor position
	// while playing before the engine re-seeks. Small enough for perceptual
	// sync, large enough to avoid jittery constant re-seeking.
	DriftThreshold float64
	// SnapThreshold is the tolerance while paused.
	SnapThreshold float64
	// MaxRetries bounds stream-error reloads before giving up.
	MaxRetries int
	// IsHost marks the host's engine, which auto-advances the room when a
	// stream fails permanently or the track ends.
	IsHost bool
	// OnTrackEnded signals the server to advance the queue.
	OnTrackEnded func()
}

// Engine reconciles anchor broadcasts with the local player.
type Engine struct {
	mu     sync.Mutex
	clock  *Clock
	player Player
	cfg    Config
	logger *log.Logger

	state       State
	playableID  string
	anchorPos   float64   // P0, seconds
	anchorAt    time.Time // T0, server wall clock
	futureTimer *time.Timer
	retries     int
}

func NewEngine(clock *Clock, player Player, cfg Config, logger *log.Logger) *Engine {
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = 2
	}
	if cfg.SnapThreshold <= 0 {
		cfg.SnapThreshold = 0.5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	return &Engine{
		clock:  clock,
		player: player,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HandleEvent applies a broadcast event. Non-playback events are ignored.
func (e *Engine) HandleEvent(ev dto.Event) {
	if ev.Type != dto.EventPlaybackSync || ev.Playback == nil {
		return
	}

	switch ev.Playback.Action {
	case dto.ActionPlay:
		e.handlePlay(*ev.Playback)
	case dto.ActionPause:
		e.handlePause(*ev.Playback)
	case dto.ActionStop:
		e.handleStop()
	}
}

func (e *Engine) handlePlay(ps dto.PlaybackSync) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Replayed anchor: same track, same T0. Applying it again would
	// double-seek, so ignore it.
	if e.state == StatePlaying && ps.PlayableID == e.playableID && ps.ServerTime.Equal(e.anchorAt) {
		return
	}

	e.cancelTimerLocked()

	if ps.PlayableID != e.playableID {
		e.playableID = ps.PlayableID
		e.retries = 0
		e.player.Load(ps.PlayableID)
	}

	e.anchorPos = ps.SeekTime
	e.anchorAt = ps.ServerTime

	wait := ps.ServerTime.Sub(e.clock.ServerNow())
	if wait > 0 {
		// Scheduled start: arm a timer for the exact instant rather than
		// starting early. A newer event cancels and re-arms it.
		e.state = StateScheduled
		e.logger.Debugf("scheduled start in %s", wait)
		e.futureTimer = time.AfterFunc(wait, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.state != StateScheduled {
				return
			}
			e.startLocked(e.anchorPos)
		})
		return
	}

	// The anchor is in the past: seek forward by however much was missed.
	missed := -wait.Seconds()
	e.startLocked(ps.SeekTime + missed)
}

func (e *Engine) startLocked(position float64) {
	e.player.SeekTo(position)
	if err := e.player.Play(); err != nil {
		if errors.Is(err, ErrAutoplayBlocked) {
			e.state = StateBlocked
			e.logger.Warnf("playback blocked, waiting for user gesture")
			return
		}
		e.logger.Errorf("player start failed: %v", err)
		e.state = StateFailed
		return
	}
	e.state = StatePlaying
}

func (e *Engine) handlePause(ps dto.PlaybackSync) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimerLocked()
	e.anchorPos = ps.SeekTime
	e.player.SeekTo(ps.SeekTime)
	e.player.Pause()
	e.state = StatePaused
}

func (e *Engine) handleStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimerLocked()
	e.playableID = ""
	e.anchorPos = 0
	e.player.Stop()
	e.state = StateIdle
}

func (e *Engine) cancelTimerLocked() {
	if e.futureTimer != nil {
		e.futureTimer.Stop()
		e.futureTimer = nil
	}
}

// Reconcile is the steady-state tick: recompute the target position from
// the anchor and correct the player only when drift exceeds the threshold.
func (e *Engine) Reconcile() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StatePlaying:
		target := e.anchorPos + e.clock.ServerNow().Sub(e.anchorAt).Seconds()
		if target < 0 {
			return
		}
		drift := e.player.Position() - target
		if drift < 0 {
			drift = -drift
		}
		if drift > e.cfg.DriftThreshold {
			e.logger.Debugf("drift %.2fs, syncing to anchor %.1fs", drift, target)
			e.player.SeekTo(target)
		}
	case StatePaused:
		// Snap exactly to the frozen position.
		drift := e.player.Position() - e.anchorPos
		if drift < 0 {
			drift = -drift
		}
		if drift > e.cfg.SnapThreshold {
			e.player.SeekTo(e.anchorPos)
		}
	}
}

// ResumeWithGesture retries a blocked start after a user interaction.
func (e *Engine) ResumeWithGesture() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateBlocked {
		return nil
	}
	if err := e.player.Play(); err != nil {
		return err
	}
	e.state = StatePlaying
	return nil
}

// RetryDelay is the backoff before reload attempt n (1-based): 250ms for
// the first (catches freshly-written cache files), doubling afterwards.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 250 * time.Millisecond
	}
	return time.Duration(1<<(attempt-1)) * 250 * time.Millisecond
}

// HandleStreamError reloads the stream with bounded exponential backoff.
// Once retries are exhausted the failure is permanent; the host's engine
// then advances the room to the next track.
func (e *Engine) HandleStreamError() {
	e.mu.Lock()

	if e.playableID == "" {
		e.mu.Unlock()
		return
	}

	e.retries++
	if e.retries > e.cfg.MaxRetries {
		e.state = StateFailed
		e.logger.Errorf("stream failed permanently after %d retries", e.cfg.MaxRetries)
		isHost := e.cfg.IsHost
		onEnded := e.cfg.OnTrackEnded
		e.mu.Unlock()

		if isHost && onEnded != nil {
			onEnded()
		}
		return
	}

	delay := RetryDelay(e.retries)
	playable := e.playableID
	e.logger.Warnf("stream error, retry %d/%d in %s", e.retries, e.cfg.MaxRetries, delay)
	e.mu.Unlock()

	time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.playableID != playable || e.state == StateFailed {
			return
		}
		e.player.Load(playable)
		target := e.anchorPos
		if e.state == StatePlaying {
			target = e.anchorPos + e.clock.ServerNow().Sub(e.anchorAt).Seconds()
		}
		e.player.SeekTo(target)
		if e.state == StatePlaying {
			if err := e.player.Play(); err != nil && errors.Is(err, ErrAutoplayBlocked) {
				e.state = StateBlocked
			}
		}
	})
}

// MarkStreamHealthy resets the retry budget once playback recovers.
func (e *Engine) MarkStreamHealthy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries = 0
	if e.state == StateFailed {
		e.state = StatePlaying
	}
}
