package ejector

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/sirupsen/logrus"
)

// Stats describes a finished retry loop.
type Stats struct {
	AttemptNumber          int           `json:"attempt_number"`
	IdleFor                time.Duration `json:"idle_for"`
	DelaySinceFirstAttempt time.Duration `json:"delay_since_first_attempt"`
}

func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"attempt_number":            s.AttemptNumber,
		"idle_for":                  s.IdleFor.String(),
		"delay_since_first_attempt": s.DelaySinceFirstAttempt.String(),
	}
}

type Retrier struct {
	conf config.RetryConf
}

func NewRetrier(conf config.RetryConf) *Retrier {
	return &Retrier{conf: conf}
}

func (r *Retrier) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.conf.MinInterval
	b.Multiplier = r.conf.Multiplier
	b.MaxInterval = r.conf.MaxInterval
	b.RandomizationFactor = 0
	return b
}

// Do runs op until it succeeds, returns a permanent error or the attempts
// are used up. op receives the 1-based attempt number.
func (r *Retrier) Do(ctx context.Context, log *logrus.Entry, op func(attempt int) error) (Stats, error) {
	var stats Stats
	start := time.Now()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		stats.AttemptNumber++
		log.WithField("attempt_number", stats.AttemptNumber).Debugln("delivery attempt")
		return struct{}{}, op(stats.AttemptNumber)
	},
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.conf.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			stats.IdleFor += wait
			log.WithError(err).WithField("attempt_number", stats.AttemptNumber).Warnf("delivery failed, retrying in %s", wait)
		}),
	)

	stats.DelaySinceFirstAttempt = time.Since(start)
	return stats, err
}
