package eventbus

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicMailNew)

	bus.Publish(TopicMailNew, "hello")

	select {
	case ev := <-ch:
		if ev.Topic != TopicMailNew || ev.Payload != "hello" {
			t.Fatalf("got %+v, want topic %q payload %q", ev, TopicMailNew, "hello")
		}
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestPublishIsPerTopic(t *testing.T) {
	bus := New()
	mailCh := bus.Subscribe(TopicMailNew)
	progressCh := bus.Subscribe(TopicIndexingProgress)

	bus.Publish(TopicMailNew, 1)

	select {
	case <-progressCh:
		t.Fatal("subscriber to a different topic received an event")
	default:
	}

	select {
	case <-mailCh:
	default:
		t.Fatal("expected the matching-topic subscriber to receive the event")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicAIToken)

	for i := 0; i < 64; i++ {
		bus.Publish(TopicAIToken, i)
	}

	if len(ch) == 0 {
		t.Fatal("expected the buffered channel to still hold the events published before it filled")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicMailNew)
	bus.Unsubscribe(TopicMailNew, ch)

	bus.Publish(TopicMailNew, "should not be delivered")

	_, open := <-ch
	if open {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := New()
	bus.Publish(TopicModelError, "no one is listening")
}
