// Package bridge reconciles the stand with the status feed written by
// the robot control software.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
)

// Bridge tails the feed file and turns the newest line into stand
// requests.
type Bridge struct {
	stand    Stand
	path     string
	interval time.Duration
	matcher  *Matcher
	log      *zap.Logger

	// lastLine is the last line handled. Only the poll goroutine touches it.
	lastLine string
	inFlight atomic.Bool

	listeners []func(Signal, Outcome)
	mu        sync.RWMutex
}

// NewBridge creates a bridge for the configured feed.
func NewBridge(cfg *config.Config, stand Stand, log *zap.Logger) *Bridge {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Bridge{
		stand:    stand,
		path:     cfg.FeedPath,
		interval: interval,
		matcher:  NewMatcher(DefaultTokens()),
		log:      log.Named("bridge"),
	}
}

// OnSignal registers a callback for every matched signal and what was
// done with it.
func (b *Bridge) OnSignal(handler func(Signal, Outcome)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, handler)
}

// Run polls the feed until ctx is done or the stand session ends. The
// feed is checked every poll interval and whenever it changes.
func (b *Bridge) Run(ctx context.Context) error {
	if b.path == "" {
		b.log.Info("no feed configured, bridge disabled")
		return nil
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.log.Warn("file watcher unavailable, polling only", zap.Error(err))
	} else {
		defer watcher.Close()
		// The directory is watched so the feed may be created later.
		if err := watcher.Add(filepath.Dir(b.path)); err != nil {
			b.log.Warn("failed to watch feed directory, polling only", zap.Error(err))
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.log.Info("bridge started", zap.String("feed", b.path), zap.Duration("interval", b.interval))
	b.poll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stand.Done():
			b.log.Info("session ended, bridge stopping")
			return nil
		case <-ticker.C:
			b.poll()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(b.path) && ev.Has(fsnotify.Write|fsnotify.Create) {
				b.poll()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			b.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (b *Bridge) poll() {
	line, err := LastLine(b.path)
	if err != nil {
		b.log.Warn("failed to read feed", zap.Error(err))
		return
	}
	if line == "" || line == b.lastLine {
		return
	}

	sig, ok := b.matcher.Match(line)
	if !ok {
		b.log.Debug("unrecognized feed line", zap.String("line", line))
		b.lastLine = line
		return
	}

	out := b.Handle(sig)
	if out != OutcomeDeferred {
		b.lastLine = line
	}
	b.notify(sig, out)
}

// Handle acts on one signal. A deferred signal should be offered again
// on the next poll.
func (b *Bridge) Handle(sig Signal) Outcome {
	log := b.log.With(zap.Stringer("signal", sig.Kind), zap.String("line", sig.Line))

	if sig.Kind == SignalCurtain {
		log.Warn("curtain trip reported by feed")
		b.stand.CurtainTrip()
		return OutcomeSubmitted
	}

	if !b.inFlight.CompareAndSwap(false, true) {
		log.Debug("bridge action in flight, ignoring")
		return OutcomeIgnored
	}

	if sig.Kind == SignalResume {
		defer b.inFlight.Store(false)
		if b.stand.AwaitingChoice() != string(station.PromptPause) {
			log.Debug("not paused, resume dropped")
			return OutcomeDropped
		}
		if err := b.stand.Decide(station.SourceBridge, station.ChoiceResume); err != nil {
			log.Info("resume not applied", zap.Error(err))
			return OutcomeDropped
		}
		return OutcomeSubmitted
	}

	action, err := b.action(sig)
	if err != nil {
		b.inFlight.Store(false)
		log.Info("signal dropped", zap.Error(err))
		return OutcomeDropped
	}

	reply, err := b.stand.TrySubmit(station.SourceBridge, action)
	if err != nil {
		b.inFlight.Store(false)
		if errors.Is(err, state.ErrBusy) {
			log.Debug("stand busy, retrying next poll")
			return OutcomeDeferred
		}
		log.Info("signal dropped", zap.Error(err))
		return OutcomeDropped
	}

	go func() {
		defer b.inFlight.Store(false)
		if err := <-reply; err != nil {
			log.Warn("bridge request failed", zap.Stringer("action", action), zap.Error(err))
			return
		}
		log.Info("bridge request done", zap.Stringer("action", action))
	}()
	return OutcomeSubmitted
}

// action maps a signal to a request, refusing anything that is not a
// single legal step from the current state.
func (b *Bridge) action(sig Signal) (station.Action, error) {
	cur := b.stand.Snapshot().State
	switch sig.Kind {
	case SignalPause:
		if cur == state.StatePaused {
			return station.Action{}, fmt.Errorf("already %s", cur)
		}
		return station.Action{Kind: station.ActionPause}, nil
	case SignalAdvance:
		if cur == sig.Target {
			return station.Action{}, fmt.Errorf("already %s", cur)
		}
		if next, ok := state.Successor(cur); !ok || next != sig.Target {
			return station.Action{}, fmt.Errorf("%s does not follow %s", sig.Target, cur)
		}
		return station.Action{Kind: station.ActionAdvanceTo, Target: sig.Target}, nil
	case SignalFault:
		if cur == sig.Target {
			return station.Action{}, fmt.Errorf("already %s", cur)
		}
		return station.Action{Kind: station.ActionReportFault, Target: sig.Target}, nil
	case SignalGround:
		if cur == state.StateGround {
			return station.Action{}, fmt.Errorf("already %s", cur)
		}
		return station.Action{Kind: station.ActionReturnToGround}, nil
	}
	return station.Action{}, fmt.Errorf("no request for %s", sig.Kind)
}

func (b *Bridge) notify(sig Signal, out Outcome) {
	b.mu.RLock()
	listeners := make([]func(Signal, Outcome), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l(sig, out)
	}
}
