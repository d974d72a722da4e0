package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spherical/docpipe/internal/domain"
)

func TestEmitSkipsNilSink(t *testing.T) {
	o := &Orchestrator{}
	assert.NotPanics(t, func() {
		o.emit(nil, domain.StreamEvent{Type: domain.EventStart})
	})
}

func TestEmitDeliversEventToSink(t *testing.T) {
	o := &Orchestrator{}
	received := make(chan domain.StreamEvent, 1)
	o.emit(func(e domain.StreamEvent) { received <- e }, domain.StreamEvent{Type: domain.EventStart, Step: "created"})

	select {
	case e := <-received:
		assert.Equal(t, domain.EventStart, e.Type)
		assert.Equal(t, "created", e.Step)
	case <-time.After(time.Second):
		t.Fatal("sink was never invoked")
	}
}

func TestEmitDoesNotBlockOnSlowSink(t *testing.T) {
	o := &Orchestrator{}
	start := time.Now()
	o.emit(func(domain.StreamEvent) { time.Sleep(2 * time.Second) }, domain.StreamEvent{Type: domain.EventStart})
	assert.Less(t, time.Since(start), time.Second)
}

func TestDerefOrZero(t *testing.T) {
	assert.Equal(t, 0, derefOrZero(nil))
	page := 3
	assert.Equal(t, 3, derefOrZero(&page))
}
