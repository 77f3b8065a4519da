package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// ClearMarker is sent to blank the reader when an RSVP run ends.
const ClearMarker = "--"

var (
	// ErrInvalidRSVPConfig wraps validation failures of RSVPConfig.
	ErrInvalidRSVPConfig = errors.New("display: invalid RSVP config")
	// ErrNoWords means the RSVP text has nothing to show.
	ErrNoWords = errors.New("display: no words to show")
)

var validate = validator.New()

// RSVPConfig tunes the rapid serial visual presentation reader.
type RSVPConfig struct {
	WordsPerGroup  int           `yaml:"words_per_group" validate:"min=1"`
	WordsPerMinute int           `yaml:"wpm" validate:"min=1"`
	PaddingChar    string        `yaml:"padding_char"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0"`
	RetryDelay     time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

// DefaultRSVPConfig returns the reader defaults.
func DefaultRSVPConfig() RSVPConfig {
	return RSVPConfig{
		WordsPerGroup:  1,
		WordsPerMinute: 250,
		PaddingChar:    "...",
		MaxRetries:     3,
		RetryDelay:     500 * time.Millisecond,
	}
}

// Validate rejects configs the reader cannot run with.
func (c RSVPConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRSVPConfig, err)
	}
	return nil
}

// GroupWords joins words into groups of n, padding the last group with pad
// so every group has n entries.
func GroupWords(words []string, n int, pad string) []string {
	if n < 1 {
		n = 1
	}
	groups := make([]string, 0, (len(words)+n-1)/n)
	for start := 0; start < len(words); start += n {
		end := min(start+n, len(words))
		g := append([]string(nil), words[start:end]...)
		for len(g) < n {
			g = append(g, pad)
		}
		groups = append(groups, strings.Join(g, " "))
	}
	return groups
}

// GroupDelay is how long each group stays on screen. The per-word delay is
// 60s/wpm less 100ms of transfer time, floored at 100ms.
func GroupDelay(c RSVPConfig) time.Duration {
	perWord := time.Minute/time.Duration(max(c.WordsPerMinute, 1)) - 100*time.Millisecond
	if perWord < 100*time.Millisecond {
		perWord = 100 * time.Millisecond
	}
	return perWord * time.Duration(max(c.WordsPerGroup, 1))
}

// SendFunc delivers one screen of text.
type SendFunc func(ctx context.Context, text string) error

// RunRSVP shows text a group at a time. The screen is cleared when the run
// completes, fails, or is cancelled. A nil clock uses wall time.
func RunRSVP(ctx context.Context, send SendFunc, text string, cfg RSVPConfig, clock clockwork.Clock) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ErrNoWords
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// Blank lead-in groups give the reader time to focus.
	groups := make([]string, cfg.WordsPerGroup-1, cfg.WordsPerGroup-1+len(words))
	groups = append(groups, GroupWords(words, cfg.WordsPerGroup, cfg.PaddingChar)...)
	delay := GroupDelay(cfg)

	slog.Info("[RSVP] starting", "words", len(words), "groups", len(groups), "delay", delay)
	err := runGroups(ctx, send, groups, delay, cfg, clock)

	clearCtx := ctx
	if ctx.Err() != nil {
		clearCtx = context.WithoutCancel(ctx)
	}
	if cerr := send(clearCtx, ClearMarker); cerr != nil {
		slog.Warn("[RSVP] clear failed", "error", cerr)
	}
	if err != nil {
		return err
	}
	slog.Info("[RSVP] finished", "groups", len(groups))
	return nil
}

func runGroups(ctx context.Context, send SendFunc, groups []string, delay time.Duration, cfg RSVPConfig, clock clockwork.Clock) error {
	for i, g := range groups {
		// Lead-in groups only hold the pause.
		if g == "" {
			if err := Sleep(ctx, clock, delay); err != nil {
				return err
			}
			continue
		}
		if err := sendWithRetry(ctx, send, g, cfg, clock); err != nil {
			return fmt.Errorf("display: rsvp group %d/%d: %w", i+1, len(groups), err)
		}
		if err := Sleep(ctx, clock, delay); err != nil {
			return err
		}
	}
	return nil
}

func sendWithRetry(ctx context.Context, send SendFunc, text string, cfg RSVPConfig, clock clockwork.Clock) error {
	for attempt := 0; ; attempt++ {
		err := send(ctx, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= cfg.MaxRetries {
			return err
		}
		slog.Warn("[RSVP] send failed, retrying", "attempt", attempt+1, "max_retries", cfg.MaxRetries, "error", err)
		if err := Sleep(ctx, clock, cfg.RetryDelay); err != nil {
			return err
		}
	}
}
