package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"echomind/models"
)

// Completer is the single-model completion contract consumed by Dispatcher.
type Completer interface {
	Complete(ctx context.Context, model string, messages []models.Message) (string, error)
}

// ErrNoCandidates is returned when a dispatch is attempted with an empty
// candidate list.
var ErrNoCandidates = errors.New("no candidate models available")

// attemptKind classifies the outcome of a single candidate attempt.
type attemptKind int

const (
	attemptSuccess attemptKind = iota
	attemptRetryable
	attemptFatal
)

type attempt struct {
	kind  attemptKind
	reply string
	err   error
}

// Dispatcher drives a Completer across an ordered list of candidate models.
// Rate-limit failures move on to the next candidate; any other failure
// surfaces immediately, since it is assumed to recur identically on every
// model.
type Dispatcher struct {
	completer Completer
}

func NewDispatcher(completer Completer) *Dispatcher {
	return &Dispatcher{completer: completer}
}

// Dispatch tries candidates strictly in order and returns the first reply
// together with the model that produced it. When every candidate is rate
// limited, the last rate-limit error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []string, messages []models.Message) (string, string, error) {
	if len(candidates) == 0 {
		return "", "", ErrNoCandidates
	}

	var lastErr error
	for _, model := range candidates {
		a := d.attempt(ctx, model, messages)
		switch a.kind {
		case attemptSuccess:
			return a.reply, model, nil
		case attemptRetryable:
			log.Warn().Str("model", model).Err(a.err).Msg("model rate limited, trying next candidate")
			lastErr = a.err
		case attemptFatal:
			return "", model, a.err
		}
	}
	return "", candidates[len(candidates)-1], lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, model string, messages []models.Message) attempt {
	reply, err := d.completer.Complete(ctx, model, messages)
	switch {
	case err == nil:
		return attempt{kind: attemptSuccess, reply: reply}
	case IsRateLimit(err):
		return attempt{kind: attemptRetryable, err: err}
	default:
		return attempt{kind: attemptFatal, err: err}
	}
}
