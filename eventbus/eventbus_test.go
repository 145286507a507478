package eventbus

import (
	"testing"
	"time"

	"github.com/codesift/codesift/model"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("conv1")

	bus.Publish("conv1", &model.Event{ConversationID: "conv1", Type: "status", Data: "hello"})

	select {
	case e := <-ch:
		if e.Type != "status" || e.Data != "hello" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishToOtherConversationNotDelivered(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("conv1")

	bus.Publish("conv2", &model.Event{ConversationID: "conv2", Type: "status"})

	select {
	case e := <-ch:
		t.Fatalf("expected no event, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("conv1")
	bus.Unsubscribe("conv1", ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	ch1 := bus.Subscribe("conv1")
	ch2 := bus.Subscribe("conv1")

	bus.Publish("conv1", &model.Event{Type: "delta", Data: "x"})

	for i, ch := range []<-chan *model.Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Data != "x" {
				t.Fatalf("subscriber %d: unexpected data %q", i, e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Subscribe("conv1") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish("conv1", &model.Event{Type: "delta"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseTopic(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("conv1")
	bus.CloseTopic("conv1")

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after CloseTopic")
	}
}
