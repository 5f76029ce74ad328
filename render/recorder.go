package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type recorderState int

const (
	stateInitial recorderState = iota
	stateRecording
	stateExecutable
)

// Recorder drives a command buffer through its one-shot lifecycle:
// Initial -> Recording -> Executable. The recorded stream is the
// entire render/copy pipeline; once Record returns, the buffer is
// immutable and may be submitted.
//
// Both pipeline barriers are load-bearing. Barrier A orders the clear
// pass before the copy and performs both layout transitions in a
// single call, because the copy reads the render target and writes
// the readback target in the same command. Barrier B orders the copy
// before any host read; mapping the readback memory without it yields
// undefined contents even when it happens to pass.
type Recorder struct {
	buffer           core1_0.CommandBuffer
	queueFamilyIndex int
	state            recorderState
}

// NewRecorder wraps a freshly allocated primary command buffer.
// queueFamilyIndex is used as both source and destination family on
// every barrier; no queue ownership transfer occurs.
func NewRecorder(buffer core1_0.CommandBuffer, queueFamilyIndex int) *Recorder {
	return &Recorder{
		buffer:           buffer,
		queueFamilyIndex: queueFamilyIndex,
	}
}

// Record records the full command stream: begin pass, clear, end
// pass, barrier A, image copy, barrier B. The recorder is one-shot;
// recording twice is an error.
func (r *Recorder) Record(pass *Pass, renderTarget *Target, readbackTarget *Target, clearColor [4]float32) error {
	if r.state != stateInitial {
		return errors.New("command stream has already been recorded")
	}

	if renderTarget.Extent != pass.Extent || readbackTarget.Extent != pass.Extent {
		return errors.Newf("copy extent %dx%d must match both image extents (render %dx%d, readback %dx%d)",
			pass.Extent.Width, pass.Extent.Height,
			renderTarget.Extent.Width, renderTarget.Extent.Height,
			readbackTarget.Extent.Width, readbackTarget.Extent.Height)
	}

	_, err := r.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	r.state = stateRecording

	err = r.buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.RenderPass,
		Framebuffer: pass.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: pass.Extent,
		},
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	err = r.buffer.CmdClearAttachments(
		[]core1_0.ClearAttachment{
			{
				AspectMask:      core1_0.ImageAspectColor,
				ColorAttachment: 0,
				ClearValue:      core1_0.ClearValueFloat(clearColor),
			},
		},
		[]core1_0.ClearRect{
			{
				Rect: core1_0.Rect2D{
					Offset: core1_0.Offset2D{X: 0, Y: 0},
					Extent: pass.Extent,
				},
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	if err != nil {
		return errors.Wrap(err, "clear attachments")
	}

	r.buffer.CmdEndRenderPass()

	colorRange := core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}

	// Barrier A: color attachment output -> transfer. Issued as one
	// call with both image barriers; splitting or reordering them is
	// unsafe because the copy touches both images at once.
	err = r.buffer.CmdPipelineBarrier(
		core1_0.PipelineStageColorAttachmentOutput,
		core1_0.PipelineStageTransfer,
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessTransferWrite,
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutTransferDstOptimal,
				SrcQueueFamilyIndex: r.queueFamilyIndex,
				DstQueueFamilyIndex: r.queueFamilyIndex,
				Image:               readbackTarget.Image,
				SubresourceRange:    colorRange,
			},
			{
				SrcAccessMask:       core1_0.AccessColorAttachmentWrite,
				DstAccessMask:       core1_0.AccessTransferRead,
				OldLayout:           core1_0.ImageLayoutColorAttachmentOptimal,
				NewLayout:           core1_0.ImageLayoutTransferSrcOptimal,
				SrcQueueFamilyIndex: r.queueFamilyIndex,
				DstQueueFamilyIndex: r.queueFamilyIndex,
				Image:               renderTarget.Image,
				SubresourceRange:    colorRange,
			},
		})
	if err != nil {
		return errors.Wrap(err, "pre-copy barrier")
	}

	colorLayer := core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}

	err = r.buffer.CmdCopyImage(
		renderTarget.Image, core1_0.ImageLayoutTransferSrcOptimal,
		readbackTarget.Image, core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.ImageCopy{
			{
				SrcSubresource: colorLayer,
				DstSubresource: colorLayer,
				Extent: core1_0.Extent3D{
					Width:  pass.Extent.Width,
					Height: pass.Extent.Height,
					Depth:  1,
				},
			},
		})
	if err != nil {
		return errors.Wrap(err, "copy image")
	}

	// Barrier B: transfer -> host. Mandatory before the map.
	err = r.buffer.CmdPipelineBarrier(
		core1_0.PipelineStageTransfer,
		core1_0.PipelineStageHost,
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       core1_0.AccessTransferWrite,
				DstAccessMask:       core1_0.AccessHostRead,
				OldLayout:           core1_0.ImageLayoutTransferDstOptimal,
				NewLayout:           core1_0.ImageLayoutGeneral,
				SrcQueueFamilyIndex: r.queueFamilyIndex,
				DstQueueFamilyIndex: r.queueFamilyIndex,
				Image:               readbackTarget.Image,
				SubresourceRange:    colorRange,
			},
		})
	if err != nil {
		return errors.Wrap(err, "host-read barrier")
	}

	_, err = r.buffer.End()
	if err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	r.state = stateExecutable

	return nil
}

// Executable returns the recorded buffer, or an error if recording
// has not completed.
func (r *Recorder) Executable() (core1_0.CommandBuffer, error) {
	if r.state != stateExecutable {
		return nil, errors.New("command stream has not finished recording")
	}
	return r.buffer, nil
}
