package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAltSvcSetAndHintsFiltersExpired(t *testing.T) {
	r := NewAltSvcRegistry()
	o := Origin{Scheme: SchemeHTTPS, Host: "Example.com", Port: 443}
	now := time.Now()

	r.Set(o, []AltSvcHint{
		{Protocol: AltSvcH3, Host: "example.com", Port: 443, Expires: now.Add(time.Hour)},
		{Protocol: AltSvcH3, Host: "old.example.com", Port: 443, Expires: now.Add(-time.Hour)},
	})

	hints := r.Hints(Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}, now)
	assert.Len(t, hints, 1)
	assert.Equal(t, "example.com", hints[0].Host)
}

func TestAltSvcClearRemovesHints(t *testing.T) {
	r := NewAltSvcRegistry()
	o := Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}
	r.Set(o, []AltSvcHint{{Protocol: AltSvcH3, Host: "example.com", Port: 443, Expires: time.Now().Add(time.Hour)}})
	r.Set(o, nil)
	assert.Empty(t, r.Hints(o, time.Now()))
}

func TestAltSvcBrokenBackoffDoublesAndExpires(t *testing.T) {
	r := NewAltSvcRegistry()
	o := Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}
	start := time.Now()

	r.MarkBroken(o, start)
	assert.True(t, r.IsBroken(o, start.Add(500*time.Millisecond)))
	assert.False(t, r.IsBroken(o, start.Add(2*time.Second)))

	r.MarkBroken(o, start.Add(2*time.Second))
	assert.True(t, r.IsBroken(o, start.Add(3*time.Second)))
}

func TestAltSvcMarkHealthyClearsBroken(t *testing.T) {
	r := NewAltSvcRegistry()
	o := Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}
	now := time.Now()
	r.MarkBroken(o, now)
	r.MarkHealthy(o)
	assert.False(t, r.IsBroken(o, now))
}
