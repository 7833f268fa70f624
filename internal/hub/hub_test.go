package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSendDeliversToSingleSubscriber(t *testing.T) {
	h := New()
	var got []Envelope
	unsub, err := h.Subscribe("agent-b", "status", func(env Envelope) { got = append(got, env) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	delivered, err := h.Send(Envelope{From: "agent-a", To: "agent-b", Topic: "status", Payload: "ready"})
	if err != nil || !delivered {
		t.Fatalf("Send delivered=%v err=%v", delivered, err)
	}
	if len(got) != 1 || got[0].Payload != "ready" || got[0].From != "agent-a" {
		t.Fatalf("handler got %+v", got)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() || got[0].Priority != PriorityNormal {
		t.Errorf("envelope not stamped: %+v", got[0])
	}

	// Wrong topic and wrong destination miss.
	if delivered, _ := h.Send(Envelope{From: "agent-a", To: "agent-b", Topic: "other"}); delivered {
		t.Error("wrong topic should not deliver")
	}
	if delivered, _ := h.Send(Envelope{From: "agent-a", To: "agent-c", Topic: "status"}); delivered {
		t.Error("wrong destination should not deliver")
	}

	unsub()
	if delivered, _ := h.Send(Envelope{From: "agent-a", To: "agent-b", Topic: "status"}); delivered {
		t.Error("unsubscribed handler should not deliver")
	}
}

func TestSendPreservesOrderPerSender(t *testing.T) {
	h := New()
	var got []any
	if _, err := h.Subscribe("sink", "seq", func(env Envelope) { got = append(got, env.Payload) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := h.Send(Envelope{From: "src", To: "sink", Topic: "seq", Payload: i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery order = %v", got)
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := New()
	received := make(map[string]int)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		if _, err := h.Subscribe(id, "news", func(env Envelope) { received[id]++ }); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	n, err := h.Broadcast("a", "news", "hello", PriorityHigh)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if received["a"] != 0 || received["b"] != 1 || received["c"] != 1 {
		t.Errorf("received = %v", received)
	}
}

func TestRequestReply(t *testing.T) {
	h := New()
	if _, err := h.Subscribe("responder", "math", func(env Envelope) {
		if !h.Reply(env.CorrelationID, "responder", 42) {
			t.Error("Reply found no waiting requester")
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	reply, err := h.Request(context.Background(), "responder", "math", "answer?", "asker", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply.Payload != 42 || reply.From != "responder" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.CorrelationID == "" {
		t.Error("reply should carry the correlation id")
	}
}

func TestRequestTimesOut(t *testing.T) {
	h := New()
	_, err := h.Request(context.Background(), "nobody", "math", "hi", "asker", 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if h.Reply("stale-correlation", "late", 1) {
		t.Error("late reply should find no requester")
	}
}

func TestSharedRegionACL(t *testing.T) {
	h := New()
	if err := h.CreateRegion("scratch", "owner", []string{"writer"}); err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	if err := h.CreateRegion("scratch", "owner", nil); !errors.Is(err, ErrRegionExists) {
		t.Errorf("err = %v, want ErrRegionExists", err)
	}

	if err := h.WriteRegion("scratch", "k", "v", "writer"); err != nil {
		t.Fatalf("WriteRegion: %v", err)
	}
	if err := h.WriteRegion("scratch", "k", "v2", "stranger"); !errors.Is(err, ErrNotInACL) {
		t.Errorf("err = %v, want ErrNotInACL", err)
	}
	if err := h.WriteRegion("scratch", "k2", "v", "owner"); err != nil {
		t.Errorf("owner write: %v", err)
	}

	v, ok, err := h.ReadRegion("scratch", "k", "writer")
	if err != nil || !ok || v != "v" {
		t.Errorf("ReadRegion = %v ok=%v err=%v", v, ok, err)
	}
	if _, _, err := h.ReadRegion("scratch", "k", "stranger"); !errors.Is(err, ErrNotInACL) {
		t.Errorf("err = %v, want ErrNotInACL", err)
	}
	if _, ok, _ := h.ReadRegion("scratch", "missing", "owner"); ok {
		t.Error("missing key should report ok=false")
	}
	if _, _, err := h.ReadRegion("nope", "k", "owner"); !errors.Is(err, ErrUnknownRegion) {
		t.Errorf("err = %v, want ErrUnknownRegion", err)
	}
}

func TestBarrierResolvesOnlyWhenAllArrive(t *testing.T) {
	h := New()
	if err := h.CreateBarrier("sync", []string{"a", "b"}); err != nil {
		t.Fatalf("CreateBarrier: %v", err)
	}

	aDone := make(chan error, 1)
	go func() { aDone <- h.ArriveAtBarrier(context.Background(), "sync", "a") }()

	// One arrival must not release the barrier.
	select {
	case err := <-aDone:
		t.Fatalf("barrier released after one arrival: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	bDone := make(chan error, 1)
	go func() { bDone <- h.ArriveAtBarrier(context.Background(), "sync", "b") }()

	for _, ch := range []chan error{aDone, bDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("ArriveAtBarrier: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("barrier never released after all arrivals")
		}
	}

	if err := h.ArriveAtBarrier(context.Background(), "sync", "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}
	if err := h.ArriveAtBarrier(context.Background(), "missing", "a"); !errors.Is(err, ErrUnknownBarrier) {
		t.Errorf("err = %v, want ErrUnknownBarrier", err)
	}
}

func TestCollectorWaitForAll(t *testing.T) {
	h := New()
	id, err := h.CreateCollector(3)
	if err != nil {
		t.Fatalf("CreateCollector: %v", err)
	}

	var wg sync.WaitGroup
	for _, agent := range []string{"w-1", "w-2", "w-3"} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			if err := h.SubmitResult(id, agent, agent+"-result"); err != nil {
				t.Errorf("SubmitResult(%s): %v", agent, err)
			}
		}(agent)
	}

	results, err := h.WaitForAll(context.Background(), id, time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("WaitForAll: %v", err)
	}
	if len(results) != 3 || results["w-2"] != "w-2-result" {
		t.Errorf("results = %v", results)
	}

	// Collector is consumed by WaitForAll.
	if err := h.SubmitResult(id, "w-4", "late"); !errors.Is(err, ErrUnknownCollect) {
		t.Errorf("err = %v, want ErrUnknownCollect", err)
	}
}

func TestCollectorTimesOutWhenIncomplete(t *testing.T) {
	h := New()
	id, err := h.CreateCollector(2)
	if err != nil {
		t.Fatalf("CreateCollector: %v", err)
	}
	if err := h.SubmitResult(id, "only", 1); err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if _, err := h.WaitForAll(context.Background(), id, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestCollectorDeduplicatesSubmitters(t *testing.T) {
	h := New()
	id, _ := h.CreateCollector(2)
	h.SubmitResult(id, "a", 1)
	h.SubmitResult(id, "a", 2)
	if _, err := h.WaitForAll(context.Background(), id, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("repeat submitter must not complete the collector, err = %v", err)
	}
}

func TestDestroyRejectsAllWaiters(t *testing.T) {
	h := New()
	if err := h.CreateBarrier("b", []string{"a", "never"}); err != nil {
		t.Fatalf("CreateBarrier: %v", err)
	}
	collectorID, _ := h.CreateCollector(1)

	barrierDone := make(chan error, 1)
	go func() { barrierDone <- h.ArriveAtBarrier(context.Background(), "b", "a") }()
	requestDone := make(chan error, 1)
	go func() {
		_, err := h.Request(context.Background(), "nobody", "t", nil, "asker", time.Minute)
		requestDone <- err
	}()
	collectDone := make(chan error, 1)
	go func() {
		_, err := h.WaitForAll(context.Background(), collectorID, time.Minute)
		collectDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.Destroy()

	for name, ch := range map[string]chan error{"barrier": barrierDone, "request": requestDone, "collector": collectDone} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrDestroyed) {
				t.Errorf("%s err = %v, want ErrDestroyed", name, err)
			}
		case <-time.After(time.Second):
			t.Errorf("%s waiter never rejected", name)
		}
	}

	if _, err := h.Subscribe("x", "t", func(Envelope) {}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Subscribe after destroy: %v", err)
	}
	if _, err := h.Send(Envelope{To: "x", Topic: "t"}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Send after destroy: %v", err)
	}
}
