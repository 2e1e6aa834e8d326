package events

import (
	"testing"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub := bus.Subscribe(EventProgress)

	bus.PublishProgress(3, 512, 1024, "report.pdf")

	select {
	case received := <-sub.C:
		progress, ok := received.(*ProgressEvent)
		if !ok {
			t.Fatal("Expected ProgressEvent")
		}
		if progress.Target() != 3 {
			t.Errorf("Expected client 3, got %d", progress.Target())
		}
		if got := progress.Line(); got != "progress:512:1024:report.pdf" {
			t.Errorf("Unexpected line %q", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub1 := bus.Subscribe(EventAck)
	sub2 := bus.Subscribe()

	bus.PublishAck()

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			if ev.Line() != "ack" {
				t.Errorf("subscriber %d: expected ack, got %q", i, ev.Line())
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d did not receive the event", i)
		}
	}
}

func TestEventBus_TypeFilter(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	progressSub := bus.Subscribe(EventProgress)
	promptSub := bus.Subscribe(EventPrompt)

	bus.PublishProgress(1, 1, 2, "")

	select {
	case <-progressSub.C:
	case <-time.After(100 * time.Millisecond):
		t.Error("Progress subscriber didn't receive event")
	}

	select {
	case <-promptSub.C:
		t.Error("Prompt subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	sub := bus.Subscribe(EventProgress)

	for i := 0; i < 10; i++ {
		bus.PublishProgress(1, int64(i), 10, "")
	}

	if dropped := bus.GetDroppedEventCount(); dropped != 8 {
		t.Errorf("Expected 8 dropped events, got %d", dropped)
	}

	count := 0
	for {
		select {
		case <-sub.C:
			count++
		case <-time.After(10 * time.Millisecond):
			if count != 2 {
				t.Errorf("Expected 2 buffered events, got %d", count)
			}
			return
		}
	}
}

func TestEventBus_SubscribeClientSkipsOtherClients(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Close()

	sub := bus.SubscribeClient(7)

	for i := 0; i < 50; i++ {
		bus.PublishProgress(8, int64(i), 50, "other")
	}
	bus.PublishMessage(8, "not for 7")
	bus.PublishProgress(7, constants.ProgressCompleted, 100, "mine")
	bus.PublishAck()

	if dropped := bus.GetDroppedEventCount(); dropped != 0 {
		t.Errorf("Expected no drops, got %d", dropped)
	}

	want := []string{"progress:-2:100:mine", "ack"}
	for _, line := range want {
		select {
		case ev := <-sub.C:
			if ev.Line() != line {
				t.Errorf("Expected %q, got %q", line, ev.Line())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for %q", line)
		}
	}
}

func TestEventBus_CompletionWaitsForRoom(t *testing.T) {
	tests := []struct {
		name    string
		publish func(bus *EventBus)
		want    string
	}{
		{
			name:    "ack",
			publish: func(bus *EventBus) { bus.PublishAck() },
			want:    "ack",
		},
		{
			name:    "completion sentinel",
			publish: func(bus *EventBus) { bus.PublishProgress(2, constants.ProgressCompleted, 10, "") },
			want:    "progress:-2:10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus(1)
			defer bus.Close()

			sub := bus.SubscribeClient(2)
			bus.PublishProgress(2, 1, 10, "")

			published := make(chan struct{})
			go func() {
				tt.publish(bus)
				close(published)
			}()

			time.Sleep(20 * time.Millisecond)
			if ev := <-sub.C; ev.Line() != "progress:1:10" {
				t.Fatalf("Expected the buffered progress line, got %q", ev.Line())
			}

			select {
			case ev := <-sub.C:
				if ev.Line() != tt.want {
					t.Errorf("Expected %q, got %q", tt.want, ev.Line())
				}
			case <-time.After(constants.CriticalEventWait):
				t.Fatal("Completion line was dropped")
			}
			select {
			case <-published:
			case <-time.After(time.Second):
				t.Fatal("Publish did not return")
			}
			if dropped := bus.GetDroppedEventCount(); dropped != 0 {
				t.Errorf("Expected no drops, got %d", dropped)
			}
		})
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("Channel should be closed after Close()")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("Expected no subscribers, got %d", n)
	}

	// Publishing with no subscribers must not panic.
	bus.PublishAck()
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	sub := bus.Subscribe(EventProgress)

	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	bus.PublishProgress(1, 1, 1, "")
	sub.Close()

	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("Subscribing to a closed bus should yield a closed channel")
	}
}

func TestEventLines(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"prompt", &PromptEvent{Prompt: "cloudcmd> "}, "prompt:cloudcmd> "},
		{"progress no title", &ProgressEvent{Transferred: -2, Total: 300}, "progress:-2:300"},
		{"message", &MessageEvent{Text: "new version"}, "message:new version"},
		{"ack", &AckEvent{}, "ack"},
		{"over quota", &OverQuotaEvent{WaitSeconds: 120}, "message:Transfer quota exceeded. Retry in 120 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Line(); got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}
