package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentpay-network/agentpay-go/client"
)

// countingObserver records poll outcomes and start/stop transitions.
type countingObserver struct {
	mu      sync.Mutex
	ok      int
	errs    int
	started int
	stopped int
}

func (o *countingObserver) ObservePoll(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if result == "ok" {
		o.ok++
	} else {
		o.errs++
	}
}

func (o *countingObserver) MonitorStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) MonitorStopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
}

func TestCallbackReceivesSnapshots(t *testing.T) {
	snapshots := make(chan *client.StatusSnapshot, 8)
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return &client.StatusSnapshot{BlockchainIdentifier: "chain-1"}, nil
	})

	h := Start(context.Background(), src, 5*time.Millisecond, func(s *client.StatusSnapshot) {
		snapshots <- s
	})
	defer func() {
		h.Stop()
		h.Wait()
	}()

	select {
	case s := <-snapshots:
		if s.BlockchainIdentifier != "chain-1" {
			t.Fatalf("unexpected snapshot: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestPollErrorsDoNotKillTheLoop(t *testing.T) {
	var polls atomic.Int64
	snapshots := make(chan *client.StatusSnapshot, 8)
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		if polls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return &client.StatusSnapshot{BlockchainIdentifier: "chain-1"}, nil
	})
	obs := &countingObserver{}

	h := Start(context.Background(), src, 5*time.Millisecond, func(s *client.StatusSnapshot) {
		snapshots <- s
	}, WithObserver(obs))
	defer func() {
		h.Stop()
		h.Wait()
	}()

	select {
	case <-snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive a failed poll")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.errs == 0 {
		t.Fatal("error poll was not observed")
	}
	if obs.ok == 0 {
		t.Fatal("successful poll was not observed")
	}
}

func TestStopPreventsFurtherCallbacks(t *testing.T) {
	var calls atomic.Int64
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return &client.StatusSnapshot{}, nil
	})

	h := Start(context.Background(), src, time.Millisecond, func(s *client.StatusSnapshot) {
		calls.Add(1)
	})

	// Let at least one callback through, then stop and wait for exit.
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no callback before stop")
		}
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	h.Wait()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("callback fired after Wait returned")
	}
}

func TestStopWinsRaceAgainstInFlightPoll(t *testing.T) {
	release := make(chan struct{})
	polling := make(chan struct{})
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		close(polling)
		<-release
		return &client.StatusSnapshot{}, nil
	})

	var calls atomic.Int64
	h := Start(context.Background(), src, time.Hour, func(s *client.StatusSnapshot) {
		calls.Add(1)
	})

	<-polling
	h.Stop()    // cancel while the poll is in flight
	close(release)
	h.Wait()

	if calls.Load() != 0 {
		t.Fatal("callback fired for a poll that finished after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return &client.StatusSnapshot{}, nil
	})
	h := Start(context.Background(), src, time.Hour, nil)
	h.Stop()
	h.Stop()
	h.Wait()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after Wait")
	}
}

func TestContextCancellationStopsTheLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return &client.StatusSnapshot{}, nil
	})
	obs := &countingObserver{}
	h := Start(ctx, src, time.Millisecond, nil, WithObserver(obs))

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancellation")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != 1 || obs.stopped != 1 {
		t.Fatalf("unexpected lifecycle counts: started=%d stopped=%d", obs.started, obs.stopped)
	}
}

func TestPollCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sensitive")
	}
	var polls atomic.Int64
	src := SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		polls.Add(1)
		return &client.StatusSnapshot{}, nil
	})

	interval := 20 * time.Millisecond
	h := Start(context.Background(), src, interval, nil)
	time.Sleep(110 * time.Millisecond)
	h.Stop()
	h.Wait()

	// Expect roughly floor(110/20)+1 polls; allow generous slack for CI.
	got := polls.Load()
	if got < 2 || got > 10 {
		t.Fatalf("unexpected poll count: %d", got)
	}
}
