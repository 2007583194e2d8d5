package dedup

import (
	"context"
	"strings"

	"github.com/velmie/consume"
)

const keySeparator = ":"

// Middleware returns a consume.Middleware that lets a message id through the handler at most once
// per expiry window.
//
// Id resolution:
//   - primary: consume.Message.ID
//   - fallback: consume.Message.Header[HeaderName] (default: "Message-Id")
//
// Per delivery the gate goes Start -> Claimed -> Completed | RolledBack:
//   - the id is claimed before the handler runs; an id already claimed skips the handler
//     and the middleware returns nil, so the delivery is acknowledged as handled;
//   - a nil handler result keeps the marker until it expires;
//   - a handler error (or panic) releases the marker first and is then returned unchanged.
//
// A claim error is returned as is and the handler does not run. Deliveries without an id
// follow the configured MissingIDPolicy.
func Middleware(backend Backend, opts ...Option) consume.Middleware {
	if backend == nil {
		panic("consume/dedup: nil backend")
	}
	cfg := NewConfig(opts...)

	return func(next consume.Handler) consume.Handler {
		return func(event consume.Event) error {
			msg := event.Message()

			key, hasKey, err := resolveKey(event, cfg)
			if err != nil {
				return err
			}
			if !hasKey {
				return handleMissingID(next, event, cfg)
			}

			ctx := msg.Context()
			claimed, err := backend.TryClaim(ctx, key)
			if err != nil {
				cfg.Logger.Error(
					"unable to claim message",
					"messageId", msg.ID,
					"topic", event.Topic(),
					"error", err.Error(),
				)
				return err
			}

			if !claimed {
				cfg.Logger.Debug("skipping duplicate message", "messageId", msg.ID, "topic", event.Topic())
				if cfg.OnDuplicate != nil {
					cfg.OnDuplicate(event)
				}
				if cfg.AckOnDuplicate {
					return event.Ack()
				}
				return nil
			}

			return handleClaimed(backend, ctx, next, event, cfg, key)
		}
	}
}

func resolveKey(event consume.Event, cfg Config) (key string, hasKey bool, err error) {
	msg := event.Message()

	id := strings.TrimSpace(msg.ID)
	if id == "" && cfg.HeaderName != "" {
		id = strings.TrimSpace(msg.Header.Get(cfg.HeaderName))
	}
	if id == "" {
		return "", false, nil
	}

	if err := cfg.IDValidator(id); err != nil {
		return "", false, err
	}

	if cfg.UseTopicInKey {
		id = event.Topic() + keySeparator + id
	}

	return cfg.KeyPrefix + id, true, nil
}

func handleMissingID(next consume.Handler, event consume.Event, cfg Config) error {
	if cfg.OnMissingID != nil {
		cfg.OnMissingID(event)
	}
	cfg.Logger.Warn(
		"message id is missing",
		"topic", event.Topic(),
		"policy", cfg.MissingIDPolicy.String(),
	)
	if cfg.MissingIDPolicy == MissingIDFailClosed {
		return &MissingMessageIDError{Topic: event.Topic()}
	}
	return next(event)
}

func handleClaimed(
	backend Backend,
	parentCtx context.Context,
	next consume.Handler,
	event consume.Event,
	cfg Config,
	key string,
) (err error) {
	rollback := func(cause error) {
		if cfg.OnRollback != nil {
			cfg.OnRollback(event, cause)
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), cfg.ReleaseTimeout)
		defer cancel()
		if rErr := backend.Release(ctx, key); rErr != nil {
			cfg.Logger.Error(
				"unable to release message claim",
				"messageId", event.Message().ID,
				"topic", event.Topic(),
				"error", rErr.Error(),
			)
			if cfg.OnReleaseError != nil {
				cfg.OnReleaseError(event, rErr)
			}
		}
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		// the handler panicked: release before the panic travels further
		if r := recover(); r != nil {
			rollback(nil)
			panic(r)
		}
	}()

	err = next(event)
	completed = true
	if err != nil {
		rollback(err)
		return err
	}
	return nil
}
