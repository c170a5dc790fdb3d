package runner

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/utils"
)

// poll calls fn every interval until it reports done or ctx ends. The first
// call happens immediately.
func poll(ctx context.Context, interval time.Duration, fn func() bool) error {
	sleeper := utils.BackoffSleeper(interval, interval, func(d time.Duration) time.Duration { return d })
	return utils.Retry(ctx, sleeper, func() (bool, error) {
		return fn(), nil
	})
}
