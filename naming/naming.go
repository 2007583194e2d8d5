// Package naming derives exchange, routing key and queue names from message types.
//
// With the default namespace "orders" and application "billing" an OrderCreated message
// resolves to exchange "orders", routing key "orders.order_created" and queue
// "billing/orders.order_created". Every name is lower-cased.
package naming

import (
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Namespaced is implemented by messages which choose their own namespace and key.
// Empty values fall back to the configured namespace and the type derived key.
type Namespaced interface {
	MessageNamespace() (namespace, key string)
}

// Override replaces the namespace and/or key of one message type.
// Empty fields keep the default.
type Override struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Key       string `yaml:"key" env:"KEY"`
}

// Config contains configuration options for Resolver
type Config struct {
	DefaultNamespace string
	ApplicationID    string
	// Overrides are keyed by Go type name ("OrderCreated")
	Overrides map[string]Override
}

// Resolver is stateless and safe for concurrent use
type Resolver struct {
	namespace string
	app       string
	overrides map[string]Override
}

// New creates a resolver
func New(cfg Config) *Resolver {
	overrides := make(map[string]Override, len(cfg.Overrides))
	for name, o := range cfg.Overrides {
		overrides[name] = o
	}
	return &Resolver{
		namespace: strings.TrimSpace(cfg.DefaultNamespace),
		app:       strings.TrimSpace(cfg.ApplicationID),
		overrides: overrides,
	}
}

// Exchange is the namespace, or the message key when there is no namespace
func (r *Resolver) Exchange(msg any) string {
	ns, key := r.namespaceAndKey(msg)
	if ns == "" {
		return strings.ToLower(key)
	}
	return strings.ToLower(ns)
}

// RoutingKey is "namespace.key", or the key alone without a namespace
func (r *Resolver) RoutingKey(msg any) string {
	ns, key := r.namespaceAndKey(msg)
	return strings.ToLower(join(ns, key))
}

// QueueName is "application/namespace.key"
func (r *Resolver) QueueName(msg any) string {
	ns, key := r.namespaceAndKey(msg)
	name := join(ns, key)
	if r.app != "" {
		name = r.app + "/" + name
	}
	return strings.ToLower(name)
}

// ErrorExchange receives messages which failed permanently
func (r *Resolver) ErrorExchange() string {
	return strings.ToLower(join(r.namespace, "error"))
}

// RetryExchange receives messages scheduled for a later retry
func (r *Resolver) RetryExchange() string {
	return strings.ToLower(join(r.namespace, "retry"))
}

// RetryQueue holds messages of exchange for delay before they go back
func (r *Resolver) RetryQueue(exchange string, delay time.Duration) string {
	ms := strconv.FormatFloat(float64(delay)/float64(time.Millisecond), 'f', -1, 64)
	name := "retry_for_" + strings.ReplaceAll(exchange, ".", "_") + "_in_" + ms + "_ms"
	return strings.ToLower(join(r.namespace, name))
}

func (r *Resolver) namespaceAndKey(msg any) (ns, key string) {
	name := goTypeName(msg)
	ns, key = r.namespace, Underscore(name)

	if o, ok := r.overrides[name]; ok {
		if o.Namespace != "" {
			ns = o.Namespace
		}
		if o.Key != "" {
			key = o.Key
		}
	}
	if n, ok := msg.(Namespaced); ok {
		mns, mkey := n.MessageNamespace()
		if mns != "" {
			ns = mns
		}
		if mkey != "" {
			key = mkey
		}
	}
	return strings.TrimSpace(ns), strings.TrimSpace(key)
}

func join(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + "." + key
}

// TypeName returns the snake_case name of the message type, pointers are dereferenced
func TypeName(msg any) string {
	return Underscore(goTypeName(msg))
}

func goTypeName(msg any) string {
	t := reflect.TypeOf(msg)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	// generic instantiations carry their type arguments in brackets
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

// Underscore converts a CamelCase identifier to snake_case: "HTTPRequestSent" -> "http_request_sent"
func Underscore(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && needsSeparator(runes, i) && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return strings.ReplaceAll(b.String(), "__", "_")
}

func needsSeparator(runes []rune, i int) bool {
	prev := runes[i-1]
	if prev == '_' {
		return false
	}
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	return i+1 < len(runes) && unicode.IsLower(runes[i+1])
}
