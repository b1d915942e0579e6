package audio

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// FFmpegInput captures microphone audio by running ffmpeg and reading raw
// PCM16LE mono frames from its stdout.
type FFmpegInput struct {
	Path   string // ffmpeg binary, defaults to "ffmpeg"
	Device string // platform capture device, defaults per OS

	mu   sync.Mutex
	cmd  *exec.Cmd
	out  io.ReadCloser
	stop chan struct{}
	done chan struct{}
}

func (d *FFmpegInput) Start(sampleRateHz, frameBytes int, emit func(frame []byte), closed func(err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return ErrAlreadyStarted
	}

	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	format, device := defaultCaptureDevice()
	if d.Device != "" {
		device = d.Device
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(sampleRateHz),
		"-f", "s16le", "-",
	}
	cmd := exec.Command(path, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	d.cmd = cmd
	d.out = out
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	stop, done := d.stop, d.done
	go func() {
		defer close(done)
		frame := make([]byte, frameBytes)
		for {
			if _, err := io.ReadFull(out, frame); err != nil {
				select {
				case <-stop:
					// Stop tore down the pipe.
				default:
					closed(fmt.Errorf("capture stream ended: %w", err))
				}
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			emit(frame)
		}
	}()
	return nil
}

func (d *FFmpegInput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	close(d.stop)
	_ = d.out.Close()
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
	// Join the reader so no emit is in flight after Stop returns.
	<-d.done
	d.cmd = nil
	d.out = nil
	return nil
}

func defaultCaptureDevice() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "alsa", "default"
	}
}

// FFplayOutput plays PCM16LE mono audio by piping it into ffplay. Silence
// kills the process so buffered hardware audio stops immediately; the next
// Write respawns it.
type FFplayOutput struct {
	Path string // ffplay binary, defaults to "ffplay"

	mu         sync.Mutex
	sampleRate int
	cmd        *exec.Cmd
	stdin      io.WriteCloser
}

func (d *FFplayOutput) Start(sampleRateHz int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampleRate = sampleRateHz
	return d.spawnLocked()
}

func (d *FFplayOutput) spawnLocked() error {
	if d.cmd != nil {
		return nil
	}
	path := d.Path
	if path == "" {
		path = "ffplay"
	}
	// ffplay does not accept ffmpeg-style `-ac`; mono is the channel layout.
	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(d.sampleRate), "-ch_layout", "mono",
		"-nodisp", "-autoexit", "-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	d.cmd = cmd
	d.stdin = stdin
	return nil
}

func (d *FFplayOutput) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.spawnLocked(); err != nil {
		return err
	}
	if _, err := d.stdin.Write(pcm); err != nil {
		d.killLocked()
		return fmt.Errorf("playback write: %w", err)
	}
	return nil
}

func (d *FFplayOutput) Silence() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killLocked()
	return nil
}

func (d *FFplayOutput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killLocked()
	return nil
}

func (d *FFplayOutput) killLocked() {
	if d.cmd == nil {
		return
	}
	_ = d.stdin.Close()
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
	d.cmd = nil
	d.stdin = nil
}
