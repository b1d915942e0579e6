package audio

import "sync"

// MemoryInput is an in-process input device fed by FeedFrame.
type MemoryInput struct {
	mu      sync.Mutex
	emit    func(frame []byte)
	closed  func(err error)
	started bool
}

func (d *MemoryInput) Start(_, _ int, emit func(frame []byte), closed func(err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.emit = emit
	d.closed = closed
	d.started = true
	return nil
}

func (d *MemoryInput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.emit = nil
	d.closed = nil
	return nil
}

// FeedFrame delivers one frame as if the hardware produced it. Delivery
// stays under the mutex so Stop and CloseWith serialize against it.
func (d *MemoryInput) FeedFrame(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit != nil {
		d.emit(frame)
	}
}

// CloseWith simulates the capture device dying mid-session.
func (d *MemoryInput) CloseWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	closed := d.closed
	d.started = false
	d.emit = nil
	d.closed = nil
	if closed != nil {
		closed(err)
	}
}

// MemoryOutput records everything written to it.
type MemoryOutput struct {
	mu       sync.Mutex
	writes   [][]byte
	silences int
	started  bool
	failWith error
}

func (d *MemoryOutput) Start(int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *MemoryOutput) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	d.writes = append(d.writes, buf)
	return nil
}

func (d *MemoryOutput) Silence() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silences++
	return nil
}

func (d *MemoryOutput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

// FailWith makes all subsequent writes return err, simulating device loss.
func (d *MemoryOutput) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

// Writes returns a copy of the chunks written so far.
func (d *MemoryOutput) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	copy(out, d.writes)
	return out
}

// Silences reports how many times the device was silenced.
func (d *MemoryOutput) Silences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silences
}
