package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestBasicPubSub tests basic publish/subscribe functionality
func TestBasicPubSub(t *testing.T) {
	b := NewBroker(0)
	defer b.Shutdown()

	sub, err := b.Subscribe(context.Background(), "bcast|peer-1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if n := b.Publish("bcast|peer-1", []byte("hello")); n != 1 {
		t.Errorf("Expected 1 delivery, got %d", n)
	}

	select {
	case msg := <-sub.C():
		if string(msg) != "hello" {
			t.Errorf("Expected 'hello', got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

// TestMultipleSubscribers tests fan-out to every subscriber of a topic
func TestMultipleSubscribers(t *testing.T) {
	b := NewBroker(0)
	defer b.Shutdown()

	var subs []*Subscription
	for i := 0; i < 5; i++ {
		sub, err := b.Subscribe(context.Background(), "topic")
		if err != nil {
			t.Fatalf("Failed to subscribe %d: %v", i, err)
		}
		subs = append(subs, sub)
	}

	if n := b.Publish("topic", []byte("x")); n != 5 {
		t.Errorf("Expected 5 deliveries, got %d", n)
	}
	for i, sub := range subs {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d did not receive", i)
		}
	}
}

// TestFullQueueDrops tests that a slow subscriber never blocks publishers
func TestFullQueueDrops(t *testing.T) {
	b := NewBroker(2)
	defer b.Shutdown()

	if _, err := b.Subscribe(context.Background(), "topic"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		b.Publish("topic", []byte{byte(i)})
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("Expected 3 dropped frames, got %d", got)
	}
}

// TestContextCancellationUnsubscribes tests subscription teardown via context
func TestContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroker(0)
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "topic")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscription was not closed")
	}
	if n := b.SubscriberCount("topic"); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

// TestShutdown tests that shutdown closes subscriptions and refuses new ones
func TestShutdown(t *testing.T) {
	b := NewBroker(0)
	sub, _ := b.Subscribe(context.Background(), "topic")

	b.Shutdown()
	b.Shutdown()

	if _, ok := <-sub.C(); ok {
		t.Error("Expected closed channel after shutdown")
	}
	if _, err := b.Subscribe(context.Background(), "topic"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if n := b.Publish("topic", []byte("x")); n != 0 {
		t.Errorf("Expected no deliveries after shutdown, got %d", n)
	}
}

// TestConcurrentPublishUnsubscribe exercises publish racing unsubscribe
func TestConcurrentPublishUnsubscribe(t *testing.T) {
	b := NewBroker(8)
	defer b.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		sub, _ := b.Subscribe(context.Background(), "topic")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish("topic", []byte("x"))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()
}
