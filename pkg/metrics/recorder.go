package metrics

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Recorder wraps a Provider for call sites that must not fail because a
// metric could not be shipped. Send errors are logged at debug level.
type Recorder struct {
	provider Provider
}

// NewRecorder returns a Recorder over p. A nil p records nothing.
func NewRecorder(p Provider) Recorder {
	return Recorder{provider: p}
}

func (r Recorder) Count(ctx context.Context, name string, tags ...string) {
	if r.provider == nil {
		return
	}
	if err := r.provider.Count(name, 1, tags); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("metric", name).Msg("metric not sent")
	}
}

func (r Recorder) Histogram(ctx context.Context, name string, value float64, tags ...string) {
	if r.provider == nil {
		return
	}
	if err := r.provider.Histogram(name, value, tags); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("metric", name).Msg("metric not sent")
	}
}
