package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// fileBlockDuration is the amount of audio handed to the sink per tick.
const fileBlockDuration = 10 * time.Millisecond

// FileBackend replays a 16-bit PCM WAV file as if it were an input device.
// With realtime set, blocks are paced at the file's sample rate; otherwise the
// file is pushed as fast as the sink accepts it.
type FileBackend struct {
	path     string
	realtime bool
}

func NewFileBackend(path string, realtime bool) *FileBackend {
	return &FileBackend{path: path, realtime: realtime}
}

func (b *FileBackend) GetType() BackendType {
	return BackendTypeFile
}

func (b *FileBackend) ListDevices() ([]DeviceInfo, error) {
	if b.path == "" {
		return nil, nil
	}
	return []DeviceInfo{{Name: filepath.Base(b.path), IsDefault: true, Backend: BackendTypeFile}}, nil
}

func (b *FileBackend) OpenDefault(ctx context.Context) (Device, error) {
	if b.path == "" {
		return nil, fmt.Errorf("%w: no input file configured", ErrNoInputDevice)
	}

	f, err := os.Open(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoInputDevice, b.path)
		}
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("input file %s is not a valid WAV file", b.path)
	}
	if decoder.BitDepth != 16 {
		return nil, fmt.Errorf("%w: %d-bit input file", ErrUnsupportedFormat, decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode input file: %w", err)
	}

	format := Format{
		Sample:     SampleS16,
		Channels:   int(decoder.NumChans),
		SampleRate: int(decoder.SampleRate),
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	raw := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(v)))
	}

	slog.Debug("Input file loaded", "file", b.path, "format", format.String(), "bytes", len(raw))
	return &fileDevice{
		name:     filepath.Base(b.path),
		format:   format,
		data:     raw,
		realtime: b.realtime,
		faults:   make(chan error, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

type fileDevice struct {
	name     string
	format   Format
	data     []byte
	realtime bool
	faults   chan error

	startOnce sync.Once
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

func (d *fileDevice) Name() string         { return d.name }
func (d *fileDevice) Format() Format       { return d.format }
func (d *fileDevice) Faults() <-chan error { return d.faults }

func (d *fileDevice) Start(sink Sink) error {
	started := false
	d.startOnce.Do(func() {
		started = true
		go d.run(sink)
	})
	if !started {
		return errors.New("input file already started")
	}
	return nil
}

func (d *fileDevice) run(sink Sink) {
	defer close(d.done)

	frames := d.format.SampleRate * int(fileBlockDuration) / int(time.Second)
	if frames < 1 {
		frames = 1
	}
	blockSize := frames * d.format.BytesPerFrame()

	var tick <-chan time.Time
	if d.realtime {
		ticker := time.NewTicker(fileBlockDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(d.data); {
		if tick != nil {
			select {
			case <-tick:
			case <-d.quit:
				return
			}
		}

		end := min(off+blockSize, len(d.data))
		if sink.Write(d.data[off:end]) == 0 && !d.realtime {
			// Sink is full; give the consumer a moment instead of dropping.
			select {
			case <-time.After(time.Millisecond):
				continue
			case <-d.quit:
				return
			}
		}
		off = end

		select {
		case <-d.quit:
			return
		default:
		}
	}
	slog.Debug("Input file exhausted", "file", d.name)
}

func (d *fileDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		started := true
		d.startOnce.Do(func() { started = false })
		if started {
			<-d.done
		}
	})
	return nil
}
