package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// sampleRate 1000 keeps warm-up byte math small: 20ms of pcm16 = 40 bytes.
func newTestSink(t *testing.T, dev OutputDevice) *Sink {
	t.Helper()
	s := NewSink(SinkConfig{
		SampleRateHz: 1000,
		QueueChunks:  16,
		Warmup:       20 * time.Millisecond,
		UnderrunGap:  40 * time.Millisecond,
	}, dev)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitForWrites(t *testing.T, dev *MemoryOutput, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := dev.Writes(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(dev.Writes()))
	return nil
}

func TestSinkWarmupThenOrderedPlayback(t *testing.T) {
	dev := &MemoryOutput{}
	s := newTestSink(t, dev)

	chunk1 := bytes.Repeat([]byte{1}, 30)
	chunk2 := bytes.Repeat([]byte{2}, 30)

	s.Write("r1", chunk1)
	time.Sleep(10 * time.Millisecond)
	if len(dev.Writes()) != 0 {
		t.Fatal("playback must not start below the warm-up threshold")
	}

	s.Write("r1", chunk2)
	writes := waitForWrites(t, dev, 2)
	if !bytes.Equal(writes[0], chunk1) || !bytes.Equal(writes[1], chunk2) {
		t.Fatalf("writes out of order: %v", writes)
	}
}

func TestSinkShortTailPlaysAfterGap(t *testing.T) {
	dev := &MemoryOutput{}
	s := newTestSink(t, dev)

	tail := bytes.Repeat([]byte{9}, 10) // below the 40-byte threshold
	s.Write("r1", tail)

	writes := waitForWrites(t, dev, 1)
	if !bytes.Equal(writes[0], tail) {
		t.Fatalf("tail not played: %v", writes)
	}
}

func TestSinkDropsCanceledChunks(t *testing.T) {
	dev := &MemoryOutput{}
	s := newTestSink(t, dev)

	s.CancelResponse("r1")
	s.Write("r1", bytes.Repeat([]byte{1}, 64))
	s.Write("r2", bytes.Repeat([]byte{2}, 64))

	writes := waitForWrites(t, dev, 1)
	for _, w := range writes {
		if w[0] == 1 {
			t.Fatal("chunk from canceled response was played")
		}
	}
}

func TestSinkCancelAppliesToAlreadyQueuedChunks(t *testing.T) {
	dev := &MemoryOutput{}
	s := NewSink(SinkConfig{
		SampleRateHz: 1000,
		QueueChunks:  16,
		Warmup:       20 * time.Millisecond,
		UnderrunGap:  40 * time.Millisecond,
	}, dev)
	// Queue before the pump starts so cancellation precedes any dequeue.
	s.Write("r1", bytes.Repeat([]byte{1}, 64))
	s.CancelResponse("r1")
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if len(dev.Writes()) != 0 {
		t.Fatalf("canceled queued chunk was played: %v", dev.Writes())
	}
}

func TestSinkFlushEmptiesQueueAndSilencesDevice(t *testing.T) {
	dev := &MemoryOutput{}
	s := newTestSink(t, dev)

	for i := 0; i < 8; i++ {
		s.Write("r1", bytes.Repeat([]byte{byte(i)}, 8))
	}
	s.Flush()

	if depth := s.QueueDepth(); depth != 0 {
		t.Fatalf("QueueDepth() after Flush = %d, want 0", depth)
	}
	if dev.Silences() == 0 {
		t.Fatal("Flush must silence the device synchronously")
	}
}

func TestSinkDropCountsOnFullQueue(t *testing.T) {
	dev := &MemoryOutput{}
	s := NewSink(SinkConfig{
		SampleRateHz: 1000,
		QueueChunks:  2,
		Warmup:       20 * time.Millisecond,
	}, dev)
	// Not started: the queue fills and overflow is dropped.
	s.Write("r1", []byte{1, 1})
	s.Write("r1", []byte{2, 2})
	s.Write("r1", []byte{3, 3})

	if got := s.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if depth := s.QueueDepth(); depth != 2 {
		t.Fatalf("QueueDepth() = %d, want capacity 2", depth)
	}
}

func TestSinkDeviceLossMutesInsteadOfCrashing(t *testing.T) {
	dev := &MemoryOutput{}
	s := newTestSink(t, dev)

	dev.FailWith(errors.New("device unplugged"))
	s.Write("r1", bytes.Repeat([]byte{1}, 64))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Err() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("device error was not surfaced")
}
