package consume_test

import (
	"testing"
	"time"

	. "github.com/velmie/consume"
)

func TestHeaderGetSet(t *testing.T) {
	h := make(Header)

	h.Set("x-tenant", "acme")
	if got := h.Get("x-tenant"); got != "acme" {
		t.Errorf("Get() = %v; want %v", got, "acme")
	}
	h.Set("x-tenant", "globex")
	if got := h.Get("x-tenant"); got != "globex" {
		t.Errorf("after overwriting, Get() = %v; want %v", got, "globex")
	}
}

func TestHeaderNilIsReadable(t *testing.T) {
	var h Header
	if got := h.Get("anything"); got != "" {
		t.Errorf("expected empty string from nil header, got %v", got)
	}
	if _, ok := h.Lookup("anything"); ok {
		t.Errorf("expected Lookup on nil header to report absence")
	}
}

func TestHeaderLookupDistinguishesEmptyValue(t *testing.T) {
	h := Header{"empty": ""}
	if v, ok := h.Lookup("empty"); !ok || v != "" {
		t.Errorf("Lookup() = %q, %v; want \"\", true", v, ok)
	}
	if _, ok := h.Lookup("missing"); ok {
		t.Errorf("expected missing key to be absent")
	}
}

func TestHeaderReplyTo(t *testing.T) {
	h := Header{}
	if got := h.GetReplyTo(); got != "" {
		t.Errorf("expected empty reply topic, got %v", got)
	}
	h.SetReplyTo("replies")
	if got := h.GetReplyTo(); got != "replies" {
		t.Errorf("GetReplyTo() = %v; want %v", got, "replies")
	}
	h.SetReplyMessageID("m-1")
	if got := h.GetReplyMessageID(); got != "m-1" {
		t.Errorf("GetReplyMessageID() = %v; want %v", got, "m-1")
	}
}

func TestHeaderCreatedAt(t *testing.T) {
	h := Header{}
	if got := h.GetCreatedAt(); got != 0 {
		t.Errorf("expected 0 without Created-At, got %v", got)
	}

	timestamp := time.Now().Unix()
	h.SetCreatedAt(timestamp)
	if got := h.GetCreatedAt(); got != timestamp {
		t.Errorf("GetCreatedAt() = %v; want %v", got, timestamp)
	}

	h.Set(HdrCreatedAt, "yesterday")
	if got := h.GetCreatedAt(); got != 0 {
		t.Errorf("expected 0 for an invalid timestamp, got %v", got)
	}
}

func TestHeaderCorrelationAndInstanceID(t *testing.T) {
	h := Header{}
	h.SetCorrelationID("c-1")
	h.SetInstanceID("billing-7")

	if got := h.GetCorrelationID(); got != "c-1" {
		t.Errorf("GetCorrelationID() = %v; want c-1", got)
	}
	if got := h.GetInstanceID(); got != "billing-7" {
		t.Errorf("GetInstanceID() = %v; want billing-7", got)
	}
}

func TestHeaderRetryCount(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		want   int
		wantOK bool
	}{
		{name: "absent", header: Header{}, want: 0, wantOK: false},
		{name: "valid", header: Header{HdrRetryCount: "3"}, want: 3, wantOK: true},
		{name: "zero", header: Header{HdrRetryCount: "0"}, want: 0, wantOK: true},
		{name: "negative", header: Header{HdrRetryCount: "-1"}, want: 0, wantOK: false},
		{name: "garbage", header: Header{HdrRetryCount: "three"}, want: 0, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.header.GetRetryCount()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("GetRetryCount() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	h := Header{}
	h.SetRetryCount(5)
	if got := h.Get(HdrRetryCount); got != "5" {
		t.Errorf("SetRetryCount() stored %q; want \"5\"", got)
	}
}

func TestHeaderClone(t *testing.T) {
	h := Header{"a": "1"}
	c := h.Clone()
	c.Set("a", "2")
	c.Set("b", "3")

	if h.Get("a") != "1" || h.Get("b") != "" {
		t.Errorf("mutating the clone changed the original: %v", h)
	}
}
