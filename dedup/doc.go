// Package dedup guards message handlers against duplicate deliveries.
//
// A Backend answers "has this message id been claimed" with set-if-absent semantics and
// an expiry window. Middleware claims the id before the handler runs, skips the handler
// for ids already claimed, and releases the claim when the handler fails so that a
// redelivery gets a fresh chance.
//
// Implementations live in subpackages: memory (single process), redisstore, natskv and
// pgstore (shared between consumer instances) and idempostore (any idempo.Store).
package dedup
