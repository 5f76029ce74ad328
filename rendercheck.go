// Package rendercheck renders a solid clear color into an offscreen
// target, copies it into a host-visible image, and verifies the
// readback pixel on the CPU. It exists to answer one question about a
// Vulkan driver: does a color written by the GPU arrive in host
// memory with the bytes it should have?
package rendercheck

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/rendercheck/readback"
	"github.com/vkngwrapper/rendercheck/render"
)

// Format is the color format of both targets. The byte order of a
// mapped texel is R, G, B, A.
const Format = core1_0.FormatR8G8B8A8UnsignedNormalized

// DefaultExtent is the render target size used when Options leaves
// the extent zero.
var DefaultExtent = core1_0.Extent2D{Width: 400, Height: 400}

// DefaultClearColor is solid yellow at full alpha.
var DefaultClearColor = [4]float32{1, 1, 0, 1}

// Options configures a Harness. The zero value selects a 400x400
// target cleared to yellow with a ten second submission timeout. A
// zero ClearColor also selects yellow; there is no way to request an
// all-zero clear, which would be indistinguishable from uninitialized
// memory anyway.
type Options struct {
	Extent      core1_0.Extent2D
	ClearColor  [4]float32
	WaitTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	// A zero axis can never describe a real target, so a half-set
	// extent falls back to the default whole.
	if o.Extent.Width == 0 || o.Extent.Height == 0 {
		o.Extent = DefaultExtent
	}
	if o.ClearColor == ([4]float32{}) {
		o.ClearColor = DefaultClearColor
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = readback.DefaultWaitTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DeviceContext carries the already-created device-level objects the
// harness runs on. The caller keeps ownership: Close never destroys
// the device or the queue.
type DeviceContext struct {
	Device           core1_0.Device
	Queue            core1_0.Queue
	QueueFamilyIndex int
	MemoryTypes      []core1_0.MemoryType
}

// Harness owns every Vulkan object the verification cycle needs:
// both targets, the render pass, the framebuffer and the command
// pool. New creates them in dependency order, Close releases them in
// reverse. Run may be called repeatedly; each run records into a
// fresh command buffer.
type Harness struct {
	device           core1_0.Device
	queueFamilyIndex int
	opts             Options
	log              *slog.Logger

	renderTarget   *render.Target
	readbackTarget *render.Target
	pass           *render.Pass
	pool           core1_0.CommandPool
	controller     *readback.Controller
}

// New provisions the harness over an existing device context.
func New(ctx DeviceContext, opts Options) (*Harness, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	renderTarget, err := render.NewRenderTarget(ctx.Device, ctx.MemoryTypes, Format, opts.Extent)
	if err != nil {
		return nil, errors.Wrap(err, "provision render target")
	}
	log.Debug("render target provisioned",
		"memoryTypeIndex", renderTarget.MemoryTypeIndex,
		"allocationSize", renderTarget.AllocationSize)

	readbackTarget, err := render.NewReadbackTarget(ctx.Device, ctx.MemoryTypes, Format, opts.Extent)
	if err != nil {
		renderTarget.Destroy()
		return nil, errors.Wrap(err, "provision readback target")
	}
	log.Debug("readback target provisioned",
		"memoryTypeIndex", readbackTarget.MemoryTypeIndex,
		"allocationSize", readbackTarget.AllocationSize,
		"hostCoherent", readbackTarget.HostCoherent())

	pass, err := render.NewPass(ctx.Device, renderTarget, opts.Extent)
	if err != nil {
		readbackTarget.Destroy()
		renderTarget.Destroy()
		return nil, err
	}

	pool, _, err := ctx.Device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: ctx.QueueFamilyIndex,
	})
	if err != nil {
		pass.Destroy()
		readbackTarget.Destroy()
		renderTarget.Destroy()
		return nil, errors.Wrap(err, "create command pool")
	}

	return &Harness{
		device:           ctx.Device,
		queueFamilyIndex: ctx.QueueFamilyIndex,
		opts:             opts,
		log:              log,
		renderTarget:     renderTarget,
		readbackTarget:   readbackTarget,
		pass:             pass,
		pool:             pool,
		controller:       readback.NewController(ctx.Device, ctx.Queue, readbackTarget, opts.WaitTimeout),
	}, nil
}

// Run records, submits and verifies one clear-and-readback cycle. It
// returns the decoded pixel even on a mismatch, alongside a
// *readback.VerificationError describing the difference.
func (h *Harness) Run() (readback.Pixel, error) {
	buffers, _, err := h.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        h.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return readback.Pixel{}, errors.Wrap(err, "allocate command buffer")
	}
	defer buffers[0].Free()

	recorder := render.NewRecorder(buffers[0], h.queueFamilyIndex)
	err = recorder.Record(h.pass, h.renderTarget, h.readbackTarget, h.opts.ClearColor)
	if err != nil {
		return readback.Pixel{}, err
	}

	executable, err := recorder.Executable()
	if err != nil {
		return readback.Pixel{}, err
	}

	start := hrtime.Now()
	err = h.controller.Execute(executable)
	if err != nil {
		return readback.Pixel{}, err
	}
	h.log.Debug("submission complete", "elapsed", hrtime.Since(start))

	pixel, err := h.controller.ReadPixel(0, 0)
	if err != nil {
		return readback.Pixel{}, err
	}

	want := readback.Expected(h.opts.ClearColor)
	if pixel != want {
		return pixel, &readback.VerificationError{X: 0, Y: 0, Got: pixel, Want: want}
	}
	return pixel, nil
}

// Close releases every object the harness owns, in reverse creation
// order. Safe to call more than once.
func (h *Harness) Close() {
	if h.pool != nil {
		h.pool.Destroy(nil)
		h.pool = nil
	}
	if h.pass != nil {
		h.pass.Destroy()
		h.pass = nil
	}
	if h.readbackTarget != nil {
		h.readbackTarget.Destroy()
		h.readbackTarget = nil
	}
	if h.renderTarget != nil {
		h.renderTarget.Destroy()
		h.renderTarget = nil
	}
}
