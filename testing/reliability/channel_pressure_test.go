package reliability

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/chanz"
	"golang.org/x/sync/errgroup"
)

// Channel pressure tests - verify no message is lost or duplicated while
// producers and consumers are cancelled at random.
// Environment: CHANZ_RELIABILITY_LEVEL controls test intensity
//   basic: CI-safe validation
//   stress: sustained load for CHANZ_RELIABILITY_DURATION

func TestChannelPressure(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic":
		t.Run("cancellation_storm", func(t *testing.T) {
			testCancellationStorm(t, config, 2*time.Second)
		})
		t.Run("rendezvous_churn", func(t *testing.T) {
			testRendezvousChurn(t, 1000)
		})
	case "stress":
		t.Run("cancellation_storm", func(t *testing.T) {
			testCancellationStorm(t, config, config.Duration)
		})
		t.Run("rendezvous_churn", func(t *testing.T) {
			testRendezvousChurn(t, 100000)
		})
	default:
		t.Skip("CHANZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

// testCancellationStorm sends with tiny random deadlines and counts only the
// sends that reported success; receivers must see exactly that many.
func testCancellationStorm(t *testing.T, config ReliabilityConfig, duration time.Duration) {
	tracer := chanz.New()
	defer tracer.Close()

	tx, rx, err := chanz.NewBounded[int64](tracer, config.Capacity)
	if err != nil {
		t.Fatal(err)
	}

	var sent, received atomic.Int64
	var seq atomic.Int64
	stop := time.Now().Add(duration)

	producers := config.MaxGoroutines / 2
	if producers < 1 {
		producers = 1
	}

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		clone := tx.Clone()
		g.Go(func() error {
			defer clone.Close()
			for time.Now().Before(stop) {
				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(rand.Intn(200))*time.Microsecond)
				err := clone.Send(ctx, seq.Add(1))
				cancel()
				switch {
				case err == nil:
					sent.Add(1)
				case errors.Is(err, context.DeadlineExceeded):
				default:
					return err
				}
			}
			return nil
		})
	}
	tx.Close()

	var consumers errgroup.Group
	for c := 0; c < producers; c++ {
		worker := rx.Clone()
		consumers.Go(func() error {
			defer worker.Close()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(rand.Intn(500))*time.Microsecond)
				_, span, err := worker.Recv(ctx)
				cancel()
				switch {
				case err == nil:
					span.Finish()
					received.Add(1)
				case errors.Is(err, context.DeadlineExceeded):
				case errors.Is(err, chanz.ErrChannelClosed):
					return nil
				default:
					return err
				}
			}
		})
	}
	rx.Close()

	if err := g.Wait(); err != nil {
		t.Fatalf("Producer failed: %v", err)
	}
	if err := consumers.Wait(); err != nil {
		t.Fatalf("Consumer failed: %v", err)
	}

	if sent.Load() != received.Load() {
		t.Errorf("Sent %d messages but received %d", sent.Load(), received.Load())
	}
	t.Logf("sent=%d received=%d", sent.Load(), received.Load())
}

// testRendezvousChurn alternates which side arrives first on a zero-capacity
// channel.
func testRendezvousChurn(t *testing.T, rounds int) {
	tracer := chanz.New()
	defer tracer.Close()

	tx, rx, err := chanz.NewBounded[int](tracer, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer rx.Close()

	var g errgroup.Group
	g.Go(func() error {
		defer tx.Close()
		for i := 0; i < rounds; i++ {
			if i%2 == 0 {
				time.Sleep(time.Microsecond)
			}
			if err := tx.Send(context.Background(), i); err != nil {
				return err
			}
		}
		return nil
	})

	for i := 0; i < rounds; i++ {
		if i%3 == 0 {
			time.Sleep(time.Microsecond)
		}
		got, span, err := rx.Recv(context.Background())
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		span.Finish()
		if got != i {
			t.Fatalf("Expected %d, got %d", i, got)
		}
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
