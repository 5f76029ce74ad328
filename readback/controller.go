package readback

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/rendercheck/render"
)

// ErrWaitTimeout marks a fence wait that expired before the device
// finished. It is distinct from a device failure: the submission may
// still be executing, so the caller must not reuse or free the
// command buffer's resources as if it had completed.
var ErrWaitTimeout = errors.New("fence wait timed out")

// DefaultWaitTimeout bounds how long Execute waits for the device. A
// clear-and-copy over a 400x400 image finishes in microseconds on any
// working driver; ten seconds only ever expires on a hung one.
const DefaultWaitTimeout = 10 * time.Second

// Controller owns submission of the recorded command stream and the
// mapped read of the readback target afterwards.
type Controller struct {
	device  core1_0.Device
	queue   core1_0.Queue
	target  *render.Target
	timeout time.Duration
}

// NewController builds a controller over the readback target. A
// non-positive timeout selects DefaultWaitTimeout.
func NewController(device core1_0.Device, queue core1_0.Queue, target *render.Target, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &Controller{
		device:  device,
		queue:   queue,
		target:  target,
		timeout: timeout,
	}
}

// Execute submits the buffer behind a fresh fence and blocks until the
// fence signals or the timeout expires. Timeout is reported as
// ErrWaitTimeout so callers can tell a hung device from a failed one.
func (c *Controller) Execute(buffer core1_0.CommandBuffer) error {
	fence, _, err := c.device.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "create submission fence")
	}
	defer fence.Destroy(nil)

	_, err = c.queue.Submit(fence, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	if err != nil {
		return errors.Wrap(err, "submit command buffer")
	}

	res, err := fence.Wait(c.timeout)
	if err != nil {
		return errors.Wrap(err, "wait for submission fence")
	}
	if res == core1_0.VKTimeout {
		return errors.Wrapf(ErrWaitTimeout, "device did not signal within %s", c.timeout)
	}

	return nil
}

// ReadPixel maps the readback memory and decodes the texel at (x, y).
// The whole allocation is mapped; the driver-reported subresource
// layout supplies the row pitch and start offset, which need not be
// tightly packed for a linear image. Non-coherent memory is
// invalidated before the read so the host sees the device's writes.
func (c *Controller) ReadPixel(x, y int) (Pixel, error) {
	layout := c.target.Image.SubresourceLayout(&core1_0.ImageSubresource{
		AspectMask: core1_0.ImageAspectColor,
	})

	ptr, _, err := c.target.Memory.Map(0, -1, 0)
	if err != nil {
		return Pixel{}, errors.Wrap(err, "map readback memory")
	}
	defer c.target.Memory.Unmap()

	if !c.target.HostCoherent() {
		_, err = c.device.InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{
			{
				Memory: c.target.Memory,
				Offset: 0,
				Size:   -1,
			},
		})
		if err != nil {
			return Pixel{}, errors.Wrap(err, "invalidate readback memory")
		}
	}

	data := unsafe.Slice((*byte)(ptr), c.target.AllocationSize)
	return DecodePixel(data, layout, x, y)
}

// Verify reads the texel at (x, y) and compares it to want. A
// mismatch comes back as a *VerificationError carrying both values.
func (c *Controller) Verify(x, y int, want Pixel) error {
	got, err := c.ReadPixel(x, y)
	if err != nil {
		return err
	}
	if got != want {
		return &VerificationError{X: x, Y: y, Got: got, Want: want}
	}
	return nil
}
