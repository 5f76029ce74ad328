package render

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/golang/mock/gomock"
)

func testExtent() core1_0.Extent2D {
	return core1_0.Extent2D{Width: 400, Height: 400}
}

func testTargets(ctrl *gomock.Controller) (*Target, *Target, *Pass) {
	renderTarget := &Target{
		Image:  mocks.NewMockImage(ctrl),
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Extent: testExtent(),
	}
	readbackTarget := &Target{
		Image:  mocks.NewMockImage(ctrl),
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Extent: testExtent(),
	}
	pass := &Pass{
		RenderPass:  mocks.NewMockRenderPass(ctrl),
		Framebuffer: mocks.NewMockFramebuffer(ctrl),
		Extent:      testExtent(),
	}
	return renderTarget, readbackTarget, pass
}

func TestRecordedStreamOrder(t *testing.T) {
	ctrl := gomock.NewController(t)

	renderTarget, readbackTarget, pass := testTargets(ctrl)
	buffer := mocks.NewMockCommandBuffer(ctrl)

	var preCopyBarriers, hostBarriers []core1_0.ImageMemoryBarrier

	begin := buffer.EXPECT().Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}).Return(core1_0.VKSuccess, nil)

	beginPass := buffer.EXPECT().CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.RenderPass,
		Framebuffer: pass.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: testExtent(),
		},
	}).Return(nil)

	clear := buffer.EXPECT().CmdClearAttachments(
		[]core1_0.ClearAttachment{
			{
				AspectMask:      core1_0.ImageAspectColor,
				ColorAttachment: 0,
				ClearValue:      core1_0.ClearValueFloat{1, 1, 0, 1},
			},
		},
		[]core1_0.ClearRect{
			{
				Rect: core1_0.Rect2D{
					Offset: core1_0.Offset2D{X: 0, Y: 0},
					Extent: testExtent(),
				},
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}).Return(nil)

	endPass := buffer.EXPECT().CmdEndRenderPass()

	barrierA := buffer.EXPECT().CmdPipelineBarrier(
		core1_0.PipelineStageColorAttachmentOutput,
		core1_0.PipelineStageTransfer,
		core1_0.DependencyFlags(0),
		nil, nil, gomock.Any(),
	).DoAndReturn(func(
		srcStageMask, dstStageMask core1_0.PipelineStageFlags,
		dependencies core1_0.DependencyFlags,
		memoryBarriers []core1_0.MemoryBarrier,
		bufferBarriers []core1_0.BufferMemoryBarrier,
		imageBarriers []core1_0.ImageMemoryBarrier,
	) error {
		preCopyBarriers = imageBarriers
		return nil
	})

	copyImage := buffer.EXPECT().CmdCopyImage(
		renderTarget.Image, core1_0.ImageLayoutTransferSrcOptimal,
		readbackTarget.Image, core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.ImageCopy{
			{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask: core1_0.ImageAspectColor,
					LayerCount: 1,
				},
				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask: core1_0.ImageAspectColor,
					LayerCount: 1,
				},
				Extent: core1_0.Extent3D{Width: 400, Height: 400, Depth: 1},
			},
		}).Return(nil)

	barrierB := buffer.EXPECT().CmdPipelineBarrier(
		core1_0.PipelineStageTransfer,
		core1_0.PipelineStageHost,
		core1_0.DependencyFlags(0),
		nil, nil, gomock.Any(),
	).DoAndReturn(func(
		srcStageMask, dstStageMask core1_0.PipelineStageFlags,
		dependencies core1_0.DependencyFlags,
		memoryBarriers []core1_0.MemoryBarrier,
		bufferBarriers []core1_0.BufferMemoryBarrier,
		imageBarriers []core1_0.ImageMemoryBarrier,
	) error {
		hostBarriers = imageBarriers
		return nil
	})

	end := buffer.EXPECT().End().Return(core1_0.VKSuccess, nil)

	// The copy must never be recorded before barrier A, and the
	// host-read barrier must be recorded before the stream ends.
	gomock.InOrder(begin, beginPass, clear, endPass, barrierA, copyImage, barrierB, end)

	recorder := NewRecorder(buffer, 3)
	err := recorder.Record(pass, renderTarget, readbackTarget, [4]float32{1, 1, 0, 1})
	require.NoError(t, err)

	// Barrier A carries both transitions in a single call.
	require.Len(t, preCopyBarriers, 2)

	readbackBarrier := preCopyBarriers[0]
	require.Equal(t, readbackTarget.Image, readbackBarrier.Image)
	require.Equal(t, core1_0.ImageLayoutUndefined, readbackBarrier.OldLayout)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, readbackBarrier.NewLayout)
	require.Equal(t, core1_0.AccessFlags(0), readbackBarrier.SrcAccessMask)
	require.Equal(t, core1_0.AccessTransferWrite, readbackBarrier.DstAccessMask)
	require.Equal(t, 3, readbackBarrier.SrcQueueFamilyIndex)
	require.Equal(t, 3, readbackBarrier.DstQueueFamilyIndex)

	renderBarrier := preCopyBarriers[1]
	require.Equal(t, renderTarget.Image, renderBarrier.Image)
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, renderBarrier.OldLayout)
	require.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, renderBarrier.NewLayout)
	require.Equal(t, core1_0.AccessColorAttachmentWrite, renderBarrier.SrcAccessMask)
	require.Equal(t, core1_0.AccessTransferRead, renderBarrier.DstAccessMask)

	require.Len(t, hostBarriers, 1)
	require.Equal(t, readbackTarget.Image, hostBarriers[0].Image)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, hostBarriers[0].OldLayout)
	require.Equal(t, core1_0.ImageLayoutGeneral, hostBarriers[0].NewLayout)
	require.Equal(t, core1_0.AccessTransferWrite, hostBarriers[0].SrcAccessMask)
	require.Equal(t, core1_0.AccessHostRead, hostBarriers[0].DstAccessMask)

	executable, err := recorder.Executable()
	require.NoError(t, err)
	require.Equal(t, buffer, executable)
}

func TestRecordIsOneShot(t *testing.T) {
	ctrl := gomock.NewController(t)

	renderTarget, readbackTarget, pass := testTargets(ctrl)
	buffer := mocks.NewMockCommandBuffer(ctrl)

	buffer.EXPECT().Begin(gomock.Any()).Return(core1_0.VKSuccess, nil)
	buffer.EXPECT().CmdBeginRenderPass(gomock.Any(), gomock.Any()).Return(nil)
	buffer.EXPECT().CmdClearAttachments(gomock.Any(), gomock.Any()).Return(nil)
	buffer.EXPECT().CmdEndRenderPass()
	buffer.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	buffer.EXPECT().CmdCopyImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	buffer.EXPECT().End().Return(core1_0.VKSuccess, nil)

	recorder := NewRecorder(buffer, 0)
	require.NoError(t, recorder.Record(pass, renderTarget, readbackTarget, [4]float32{1, 1, 0, 1}))

	// A second recording must be rejected without touching the buffer.
	err := recorder.Record(pass, renderTarget, readbackTarget, [4]float32{1, 1, 0, 1})
	require.Error(t, err)
}

func TestRecordRejectsExtentMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)

	renderTarget, readbackTarget, pass := testTargets(ctrl)
	readbackTarget.Extent = core1_0.Extent2D{Width: 200, Height: 200}

	buffer := mocks.NewMockCommandBuffer(ctrl)

	recorder := NewRecorder(buffer, 0)
	err := recorder.Record(pass, renderTarget, readbackTarget, [4]float32{1, 1, 0, 1})
	require.Error(t, err)

	_, err = recorder.Executable()
	require.Error(t, err)
}

func TestExecutableBeforeRecording(t *testing.T) {
	ctrl := gomock.NewController(t)

	recorder := NewRecorder(mocks.NewMockCommandBuffer(ctrl), 0)
	_, err := recorder.Executable()
	require.Error(t, err)
}
