package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SinkConfig sizes the playback pipeline.
type SinkConfig struct {
	SampleRateHz int
	QueueChunks  int
	// Warmup is how much audio must accumulate before playback starts for
	// the first response and after an underrun.
	Warmup time.Duration
	// UnderrunGap is how long the pump waits for the next chunk before it
	// declares an underrun and re-enters warm-up.
	UnderrunGap time.Duration
}

type sinkChunk struct {
	responseID string
	pcm        []byte
}

// Sink consumes response-tagged PCM chunks and drives an output device
// through a jitter buffer. Chunks from canceled responses are dropped on
// dequeue, so cancellation is eventually consistent: nothing mid-write is
// stopped mid-sample, but no further samples from that response are emitted.
type Sink struct {
	cfg         SinkConfig
	device      OutputDevice
	warmupBytes int

	queue chan sinkChunk
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	canceled map[string]struct{}
	lastErr  error

	flushGen atomic.Uint64
	dropped  atomic.Uint64
	muted    atomic.Bool
	started  atomic.Bool
}

func NewSink(cfg SinkConfig, device OutputDevice) *Sink {
	if cfg.QueueChunks <= 0 {
		cfg.QueueChunks = 128
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = 120 * time.Millisecond
	}
	if cfg.UnderrunGap <= 0 {
		cfg.UnderrunGap = 2 * cfg.Warmup
	}
	warmupBytes := cfg.SampleRateHz * 2 * int(cfg.Warmup/time.Millisecond) / 1000
	return &Sink{
		cfg:         cfg,
		device:      device,
		warmupBytes: warmupBytes,
		queue:       make(chan sinkChunk, cfg.QueueChunks),
		done:        make(chan struct{}),
		canceled:    make(map[string]struct{}),
	}
}

func (s *Sink) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := s.device.Start(s.cfg.SampleRateHz); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

// Write enqueues one chunk for playback. Chunks for canceled responses and
// chunks that do not fit in the queue are dropped and counted.
func (s *Sink) Write(responseID string, pcm []byte) {
	if len(pcm) == 0 || s.isCanceled(responseID) {
		return
	}
	select {
	case s.queue <- sinkChunk{responseID: responseID, pcm: pcm}:
	default:
		s.dropped.Add(1)
	}
}

// CancelResponse marks a response so its remaining chunks are discarded.
func (s *Sink) CancelResponse(responseID string) {
	if responseID == "" {
		return
	}
	s.mu.Lock()
	s.canceled[responseID] = struct{}{}
	s.mu.Unlock()
}

// ClearCanceled forgets a finished response id so the set stays bounded.
func (s *Sink) ClearCanceled(responseID string) {
	s.mu.Lock()
	delete(s.canceled, responseID)
	s.mu.Unlock()
}

// Flush discards all buffered audio and silences the device synchronously.
func (s *Sink) Flush() {
	s.flushGen.Add(1)
	for {
		select {
		case <-s.queue:
		default:
			if err := s.device.Silence(); err != nil {
				s.recordErr(err)
			}
			return
		}
	}
}

func (s *Sink) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.device.Stop()
}

// Dropped reports how many chunks were discarded on a full queue.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// QueueDepth reports the current number of buffered chunks.
func (s *Sink) QueueDepth() int {
	return len(s.queue)
}

// Err returns the most recent playback device error, if any. A device loss
// mutes the sink instead of stopping the session.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Sink) isCanceled(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.canceled[responseID]
	return ok
}

func (s *Sink) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.muted.Store(true)
}

func (s *Sink) writeDevice(pcm []byte) {
	if s.muted.Load() {
		return
	}
	if err := s.device.Write(pcm); err != nil {
		s.recordErr(err)
	}
}

func (s *Sink) run() {
	defer s.wg.Done()

	warming := true
	gen := s.flushGen.Load()
	var pending []sinkChunk
	var pendingBytes int

	playPending := func() {
		for _, p := range pending {
			if s.isCanceled(p.responseID) || s.flushGen.Load() != gen {
				continue
			}
			s.writeDevice(p.pcm)
		}
		pending = nil
		pendingBytes = 0
	}

	for {
		if g := s.flushGen.Load(); g != gen {
			gen = g
			pending = nil
			pendingBytes = 0
			warming = true
		}

		var c sinkChunk
		if warming && len(pending) == 0 {
			select {
			case c = <-s.queue:
			case <-s.done:
				return
			}
		} else {
			timer := time.NewTimer(s.cfg.UnderrunGap)
			select {
			case c = <-s.queue:
				timer.Stop()
			case <-timer.C:
				if warming {
					// Short tail below the warm-up threshold: play what we
					// have rather than holding it forever.
					playPending()
					warming = false
				} else {
					warming = true
				}
				continue
			case <-s.done:
				timer.Stop()
				return
			}
		}

		if s.isCanceled(c.responseID) || s.flushGen.Load() != gen {
			continue
		}

		if warming {
			pending = append(pending, c)
			pendingBytes += len(c.pcm)
			if pendingBytes >= s.warmupBytes {
				playPending()
				warming = false
			}
			continue
		}
		s.writeDevice(c.pcm)
	}
}
