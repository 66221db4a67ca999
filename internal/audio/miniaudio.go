package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Miniaudio captures and plays through the platform default audio API via malgo.
type Miniaudio struct{}

func (Miniaudio) Name() string { return "miniaudio" }

func initMalgo() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	return ctx, nil
}

func freeMalgo(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// ListDevices returns miniaudio capture devices. miniaudio reports neither mute nor port
// state, so every device is treated as available.
func (Miniaudio) ListDevices(_ context.Context) ([]Device, error) {
	mctx, err := initMalgo()
	if err != nil {
		return nil, err
	}
	defer freeMalgo(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:          info.ID.String(),
			Description: info.Name(),
			State:       "unknown",
			Available:   true,
			Default:     info.IsDefault != 0,
		})
	}
	return devices, nil
}

// StartCapture opens a 16kHz mono s16 capture device. The device stops when ctx is
// cancelled.
func (Miniaudio) StartCapture(ctx context.Context, selected Device) (*Capture, error) {
	mctx, err := initMalgo()
	if err != nil {
		return nil, err
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		freeMalgo(mctx)
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = CaptureSampleRate
	cfg.Capture.Format = format
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = chunkSizeBytes / uint32(bytesPerFrame)
	for i := range infos {
		if infos[i].ID.String() == selected.ID {
			cfg.Capture.DeviceID = infos[i].ID.Pointer()
			break
		}
	}

	capture := newCapture(selected)
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			_, _ = capture.onPCM(input[:n])
		},
	})
	if err != nil {
		freeMalgo(mctx)
		return nil, fmt.Errorf("init capture device %q: %w", selected.ID, err)
	}

	capture.release = func() {
		_ = device.Stop()
		device.Uninit()
		freeMalgo(mctx)
	}
	if err := device.Start(); err != nil {
		capture.Close()
		return nil, fmt.Errorf("start capture device %q: %w", selected.ID, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

// Play writes mono samples to the default playback device and waits until the device has
// consumed them.
func (Miniaudio) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	mctx, err := initMalgo()
	if err != nil {
		return err
	}
	defer freeMalgo(mctx)

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1

	var (
		mu       sync.Mutex
		pcm      = PCMBytes(samples)
		done     = make(chan struct{})
		doneOnce sync.Once
	)
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			need := int(frameCount) * bytesPerFrame
			if need > len(output) {
				need = len(output)
			}
			mu.Lock()
			n := copy(output[:need], pcm)
			pcm = pcm[n:]
			remaining := len(pcm)
			mu.Unlock()
			if remaining == 0 {
				doneOnce.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	defer func() { _ = device.Stop() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
