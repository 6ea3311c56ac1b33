package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEvent_ListenNotify(t *testing.T) {
	event := NewChannelEvent[string](false)

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("first")
	event.Notify("second")

	received := make([]string, 0, 2)
	for len(received) < 2 {
		select {
		case v := <-ch:
			received = append(received, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.Equal(t, []string{"first", "second"}, received)

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("third")
	select {
	case v := <-ch:
		t.Errorf("unexpected value after unregister: %s", v)
	default:
	}
}

func TestChannelEvent_ReplaysLastEvent(t *testing.T) {
	event := NewChannelEvent[int](true)
	event.Notify(7)

	ch := make(chan int, 1)
	defer event.Listen(ch)()

	select {
	case v := <-ch:
		assert.Equal(t, 7, v)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected replay of last event")
	}
}

func TestChannelEvent_NoReplayWhenDisabled(t *testing.T) {
	event := NewChannelEvent[int](false)
	event.Notify(7)

	ch := make(chan int, 1)
	defer event.Listen(ch)()

	select {
	case v := <-ch:
		t.Errorf("unexpected replay: %d", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelEvent_FullChannelDoesNotBlockNotify(t *testing.T) {
	event := NewChannelEvent[int](false)

	full := make(chan int) // unbuffered, never read
	defer event.Listen(full)()

	done := make(chan struct{})
	go func() {
		event.Notify(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Notify blocked on a full listener channel")
	}
}

func TestChannelEvent_MultipleListeners(t *testing.T) {
	event := NewChannelEvent[int](false)

	ch1 := make(chan int, 4)
	ch2 := make(chan int, 4)
	defer event.Listen(ch1)()
	defer event.Listen(ch2)()
	require.Equal(t, 2, event.ListenerCount())

	event.Notify(42)

	for _, ch := range []chan int{ch1, ch2} {
		select {
		case v := <-ch:
			assert.Equal(t, 42, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("listener did not receive event")
		}
	}
}

func TestChannelEvent_ConcurrentNotify(t *testing.T) {
	event := NewChannelEvent[int](true)

	ch := make(chan int, 1024)
	defer event.Listen(ch)()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				event.Notify(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	// All sends were non-blocking into a big buffer; expect every one.
	assert.Equal(t, 400, len(ch))
}
