package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnLocksSerializeAndRelease(t *testing.T) {
	l := newTurnLocks()

	unlock := l.lock("s1")
	assert.True(t, l.busy("s1"))
	assert.False(t, l.busy("s2"))

	acquired := make(chan func())
	go func() { acquired <- l.lock("s1") }()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	second := <-acquired
	assert.True(t, l.busy("s1"))
	second()
	assert.False(t, l.busy("s1"))
}
