package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// SourceConfig sizes the capture pipeline.
type SourceConfig struct {
	SampleRateHz int
	FrameBytes   int
	QueueFrames  int
}

// Source captures fixed-size PCM16 frames from an input device into a
// bounded queue. The capture callback never blocks: when the queue is full
// the incoming frame is dropped and counted.
type Source struct {
	cfg    SourceConfig
	device InputDevice

	mu      sync.Mutex
	started bool
	frames  chan []byte
	lastErr error
	lost    bool
	done    chan struct{}

	dropped atomic.Uint64
	level   atomic.Uint64
}

func NewSource(cfg SourceConfig, device InputDevice) *Source {
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 64
	}
	return &Source{cfg: cfg, device: device, done: make(chan struct{})}
}

// Start begins continuous capture. The returned frame sequence ends only
// when Stop is called; restarting requires a fresh Start.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	s.frames = make(chan []byte, s.cfg.QueueFrames)
	frames := s.frames
	emit := func(frame []byte) {
		s.level.Store(math.Float64bits(RMS(frame)))
		buf := make([]byte, len(frame))
		copy(buf, frame)
		select {
		case frames <- buf:
		default:
			s.dropped.Add(1)
		}
	}
	closed := func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.frames != frames {
			// Stop already tore the stream down.
			return
		}
		s.lastErr = err
		s.started = false
		close(s.frames)
		s.frames = nil
		if !s.lost {
			s.lost = true
			close(s.done)
		}
	}
	err := s.device.Start(s.cfg.SampleRateHz, s.cfg.FrameBytes, emit, closed)
	if err != nil {
		s.frames = nil
		return fmt.Errorf("start capture: %w", err)
	}
	s.started = true
	return nil
}

// Frames returns the capture queue. It is valid only between Start and Stop.
func (s *Source) Frames() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Joins the device's capture callback, so nothing emits into the frame
	// channel once it is closed below. Held outside the mutex: the device
	// may be delivering its closed notification, which needs the lock.
	err := s.device.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.frames)
		s.frames = nil
		s.started = false
	}
	return err
}

// Err reports why capture ended, if the device stopped on its own.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when the device stops delivering audio without Stop being
// called. Err carries the cause; the frame channel is closed at that point.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Dropped reports how many frames were discarded on a full queue.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// QueueDepth reports the current number of buffered frames.
func (s *Source) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return 0
	}
	return len(s.frames)
}

// Level returns the most recent capture RMS level. Advisory only.
func (s *Source) Level() float64 {
	return math.Float64frombits(s.level.Load())
}
