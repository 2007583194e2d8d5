package consume

import (
	"errors"
	"time"
)

const (
	defaultResubscribeDelay     = 10 * time.Second
	defaultMaxSubscribeAttempts = -1 // unlimited
	defaultErrorHandlerDelay    = 5 * time.Second
)

// LogErrorHandler logs subscription errors
func LogErrorHandler(log Logger) ErrorHandler {
	return func(err error, sub Subscription) {
		log.Error("subscription error", "topic", sub.Topic(), "error", err.Error())
	}
}

// DelayErrorHandler waits for the specified duration
func DelayErrorHandler(duration time.Duration, logger ...Logger) ErrorHandler {
	var log Logger = NopLogger{}
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}
	return func(_ error, sub Subscription) {
		log.Debug("delaying after subscription error", "topic", sub.Topic(), "delay", duration)
		time.Sleep(duration)
	}
}

// CombineErrorHandlers combines multiple error handlers by calling them sequentially
func CombineErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err error, sub Subscription) {
		for _, handler := range handlers {
			if handler != nil {
				handler(err, sub)
			}
		}
	}
}

// WithDefaultErrorHandler is a SubscribeOption which logs the error, waits and resubscribes
func WithDefaultErrorHandler(subscriber Subscriber, log Logger) SubscribeOption {
	return func(options *SubscribeOptions) {
		options.ErrorHandler = CombineErrorHandlers(
			LogErrorHandler(log),
			DelayErrorHandler(defaultErrorHandlerDelay, log),
			ResubscribeErrorHandler(subscriber, ResubscribeWithLogger(log)),
		)
	}
}

type ResubscribeOptions struct {
	Logger                          Logger
	MaxSubscriptionAttempts         int
	DelayBetweenSubscriptionAttempt time.Duration
}

type ResubscribeOption func(options *ResubscribeOptions)

// ResubscribeErrorHandler cancels the failed subscription and subscribes again with the same
// handler and options. AlreadySubscribed counts as success.
func ResubscribeErrorHandler(subscriber Subscriber, options ...ResubscribeOption) ErrorHandler {
	opts := &ResubscribeOptions{
		Logger:                          NopLogger{},
		MaxSubscriptionAttempts:         defaultMaxSubscribeAttempts,
		DelayBetweenSubscriptionAttempt: defaultResubscribeDelay,
	}
	for _, option := range options {
		option(opts)
	}
	log := opts.Logger

	return func(_ error, sub Subscription) {
		log.Debug("resubscribing", "topic", sub.Topic())
		if err := sub.Unsubscribe(); err != nil {
			log.Error("unable to unsubscribe", "topic", sub.Topic(), "error", err.Error())
			return
		}
		<-sub.Done()

		for attempt := 1; ; attempt++ {
			_, err := subscriber.Subscribe(sub.Topic(), sub.Handler(), subscribeOptionsOf(sub)...)
			if err == nil || errors.Is(err, AlreadySubscribed) {
				return
			}
			log.Error("unable to subscribe", "topic", sub.Topic(), "attempt", attempt, "error", err.Error())
			if opts.MaxSubscriptionAttempts > 0 && attempt >= opts.MaxSubscriptionAttempts {
				return
			}
			time.Sleep(opts.DelayBetweenSubscriptionAttempt)
		}
	}
}

func subscribeOptionsOf(sub Subscription) []SubscribeOption {
	o := sub.Options()
	if o == nil {
		return nil
	}
	copied := *o
	return []SubscribeOption{func(options *SubscribeOptions) {
		*options = copied
	}}
}

func ResubscribeWithLogger(logger Logger) ResubscribeOption {
	return func(options *ResubscribeOptions) {
		if logger != nil {
			options.Logger = logger
		}
	}
}

func ResubscribeWithMaxSubscriptionAttempts(maxAttempts int) ResubscribeOption {
	return func(options *ResubscribeOptions) {
		options.MaxSubscriptionAttempts = maxAttempts
	}
}

func ResubscribeWithDelayBetweenSubscriptionAttempts(delay time.Duration) ResubscribeOption {
	return func(options *ResubscribeOptions) {
		options.DelayBetweenSubscriptionAttempt = delay
	}
}
