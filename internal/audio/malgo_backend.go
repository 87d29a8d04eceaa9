package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures from the system input devices through miniaudio.
type MalgoBackend struct {
	deviceName string
}

// NewMalgoBackend creates a backend that opens the device whose name contains
// deviceName, or the system default when deviceName is empty.
func NewMalgoBackend(deviceName string) *MalgoBackend {
	return &MalgoBackend{deviceName: strings.TrimSpace(deviceName)}
}

func (b *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}

func (b *MalgoBackend) initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return ctx, nil
}

// ListDevices returns available capture devices
func (b *MalgoBackend) ListDevices() ([]DeviceInfo, error) {
	ctx, err := b.initContext()
	if err != nil {
		return nil, err
	}
	defer releaseContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, DeviceInfo{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			Backend:   BackendTypeMalgo,
		})
	}
	return devices, nil
}

// OpenDefault initializes the input device in its native format. The device is
// not started until Start is called.
func (b *MalgoBackend) OpenDefault(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := b.initContext()
	if err != nil {
		return nil, err
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		releaseContext(mctx)
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	if len(infos) == 0 {
		releaseContext(mctx)
		return nil, ErrNoInputDevice
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	// Zero values ask miniaudio for the device's native format.
	deviceConfig.Capture.Format = malgo.FormatUnknown
	deviceConfig.Capture.Channels = 0
	deviceConfig.SampleRate = 0
	deviceConfig.Alsa.NoMMap = 1

	name := "default"
	if b.deviceName != "" {
		info := matchDevice(infos, b.deviceName)
		if info == nil {
			releaseContext(mctx)
			return nil, fmt.Errorf("%w: no device matching %q", ErrNoInputDevice, b.deviceName)
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		name = info.Name()
	} else {
		for _, info := range infos {
			if info.IsDefault != 0 {
				name = info.Name()
				break
			}
		}
	}

	dev := &malgoDevice{
		ctx:    mctx,
		name:   name,
		faults: make(chan error, 1),
	}
	callbacks := malgo.DeviceCallbacks{
		Data: dev.onData,
		Stop: dev.onStop,
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		releaseContext(mctx)
		return nil, fmt.Errorf("init capture device %q: %w", name, err)
	}
	dev.device = device

	format, err := nativeFormat(device)
	if err != nil {
		device.Uninit()
		releaseContext(mctx)
		return nil, err
	}
	dev.format = format

	slog.Debug("Capture device opened", "device", name, "format", format.String())
	return dev, nil
}

func nativeFormat(device *malgo.Device) (Format, error) {
	f := Format{
		Channels:   int(device.CaptureChannels()),
		SampleRate: int(device.SampleRate()),
	}
	switch device.CaptureFormat() {
	case malgo.FormatS16:
		f.Sample = SampleS16
	case malgo.FormatF32:
		f.Sample = SampleF32
	default:
		return Format{}, fmt.Errorf("%w: device format %d", ErrUnsupportedFormat, device.CaptureFormat())
	}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

func matchDevice(infos []malgo.DeviceInfo, name string) *malgo.DeviceInfo {
	needle := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), needle) {
			return &infos[i]
		}
	}
	return nil
}

func releaseContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

type sinkHolder struct {
	sink Sink
}

type malgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	name   string
	format Format

	sink    atomic.Pointer[sinkHolder]
	closing atomic.Bool
	faults  chan error

	closeOnce sync.Once
	closeErr  error
}

func (d *malgoDevice) Name() string         { return d.name }
func (d *malgoDevice) Format() Format       { return d.format }
func (d *malgoDevice) Faults() <-chan error { return d.faults }

func (d *malgoDevice) Start(sink Sink) error {
	d.sink.Store(&sinkHolder{sink: sink})
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("start capture device %q: %w", d.name, err)
	}
	return nil
}

// onData runs on the driver thread: copy into the sink and return.
func (d *malgoDevice) onData(_, input []byte, _ uint32) {
	if h := d.sink.Load(); h != nil {
		h.sink.Write(input)
	}
}

func (d *malgoDevice) onStop() {
	if d.closing.Load() {
		return
	}
	select {
	case d.faults <- fmt.Errorf("%w: %s", ErrDeviceStopped, d.name):
	default:
	}
}

func (d *malgoDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		if d.device != nil {
			d.device.Uninit()
		}
		if err := d.ctx.Uninit(); err != nil {
			d.closeErr = fmt.Errorf("release audio context: %w", err)
		}
		d.ctx.Free()
		slog.Debug("Capture device released", "device", d.name)
	})
	return d.closeErr
}
