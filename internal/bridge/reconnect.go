package bridge

import (
	"context"
	"math/rand"
	"time"

	"github.com/danmuck/instaxemu/internal/retry"
	"github.com/rs/zerolog/log"
)

// Opener produces a fresh link, e.g. by reopening a serial device.
type Opener func(ctx context.Context) (*Link, error)

// Reconnect keeps a link open until ctx is done. Failed opens back off;
// a link that ends is reopened after the initial delay.
func Reconnect(ctx context.Context, open Opener, backoff retry.BackoffConfig, handle func(context.Context, *Link) error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		link, err := open(ctx)
		if err != nil {
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Msg("bridge open failed")
			if err := retry.Wait(ctx, backoff, attempt, rng); err != nil {
				return err
			}
			continue
		}
		attempt = 0
		log.Info().Str("link", link.Name()).Msg("bridge link open")
		if err := handle(ctx, link); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("link", link.Name()).Msg("bridge link ended with error")
		}
		_ = link.Close()
		if err := retry.Wait(ctx, backoff, 1, rng); err != nil {
			return err
		}
	}
}
