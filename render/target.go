// Package render provisions the color targets and records the
// clear/copy command stream that moves the rendered pixels into
// host-visible memory.
package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/rendercheck/memtype"
)

// Target is an image together with its bound device memory and color
// view. Everything but the image layout is immutable after creation;
// the layout changes only through barriers recorded by the Recorder.
type Target struct {
	Image  core1_0.Image
	Memory core1_0.DeviceMemory
	View   core1_0.ImageView

	Format core1_0.Format
	Extent core1_0.Extent2D

	// MemoryTypeIndex and MemoryFlags describe the memory type the
	// allocation landed in. Readback consults MemoryFlags to decide
	// whether a mapped read needs an explicit invalidate.
	MemoryTypeIndex int
	MemoryFlags     core1_0.MemoryPropertyFlags
	AllocationSize  int
}

// NewRenderTarget creates the device-local, optimally tiled image the
// clear pass renders into.
func NewRenderTarget(device core1_0.Device, memoryTypes []core1_0.MemoryType, format core1_0.Format, extent core1_0.Extent2D) (*Target, error) {
	return provisionTarget(device, memoryTypes, format, extent,
		core1_0.ImageTilingOptimal,
		core1_0.ImageUsageColorAttachment|core1_0.ImageUsageTransferSrc,
		core1_0.MemoryPropertyDeviceLocal,
	)
}

// NewReadbackTarget creates the host-visible, linearly tiled image
// that receives the copy and is mapped on the CPU afterwards.
func NewReadbackTarget(device core1_0.Device, memoryTypes []core1_0.MemoryType, format core1_0.Format, extent core1_0.Extent2D) (*Target, error) {
	return provisionTarget(device, memoryTypes, format, extent,
		core1_0.ImageTilingLinear,
		core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled,
		core1_0.MemoryPropertyHostVisible,
	)
}

func provisionTarget(
	device core1_0.Device,
	memoryTypes []core1_0.MemoryType,
	format core1_0.Format,
	extent core1_0.Extent2D,
	tiling core1_0.ImageTiling,
	usage core1_0.ImageUsageFlags,
	requiredMemory core1_0.MemoryPropertyFlags,
) (*Target, error) {
	image, _, err := device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    format,
		Extent: core1_0.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        tiling,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}

	memoryRequirements := image.MemoryRequirements()
	memoryTypeIndex, err := memtype.SelectFor(memoryTypes, memoryRequirements, requiredMemory)
	if err != nil {
		image.Destroy(nil)
		return nil, err
	}

	memory, _, err := device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		image.Destroy(nil)
		return nil, errors.Wrap(err, "allocate image memory")
	}

	_, err = image.BindImageMemory(memory, 0)
	if err != nil {
		memory.Free(nil)
		image.Destroy(nil)
		return nil, errors.Wrap(err, "bind image memory")
	}

	// The view must be created after the bind; a view over an unbound
	// image is invalid.
	view, _, err := device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		memory.Free(nil)
		image.Destroy(nil)
		return nil, errors.Wrap(err, "create image view")
	}

	return &Target{
		Image:           image,
		Memory:          memory,
		View:            view,
		Format:          format,
		Extent:          extent,
		MemoryTypeIndex: memoryTypeIndex,
		MemoryFlags:     memoryTypes[memoryTypeIndex].PropertyFlags,
		AllocationSize:  memoryRequirements.Size,
	}, nil
}

// HostCoherent reports whether the target's memory type is
// host-coherent. Non-coherent readback targets need an invalidate
// before the mapped contents are read.
func (t *Target) HostCoherent() bool {
	return t.MemoryFlags&core1_0.MemoryPropertyHostCoherent != 0
}

// Destroy releases the view, image and memory.
func (t *Target) Destroy() {
	if t.View != nil {
		t.View.Destroy(nil)
		t.View = nil
	}
	if t.Image != nil {
		t.Image.Destroy(nil)
		t.Image = nil
	}
	if t.Memory != nil {
		t.Memory.Free(nil)
		t.Memory = nil
	}
}
