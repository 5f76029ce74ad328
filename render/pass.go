package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Pass is the render pass descriptor plus the framebuffer binding it
// to the render target's view. Immutable once created.
type Pass struct {
	RenderPass  core1_0.RenderPass
	Framebuffer core1_0.Framebuffer
	Extent      core1_0.Extent2D
}

// NewPass builds the single-attachment render pass and its
// framebuffer over target's view. The framebuffer extent must equal
// the target extent; a mismatch is a configuration defect, not a
// runtime condition, so it is rejected before any handle is created.
func NewPass(device core1_0.Device, target *Target, extent core1_0.Extent2D) (*Pass, error) {
	if target.Extent != extent {
		return nil, errors.Newf("framebuffer extent %dx%d does not match render target extent %dx%d",
			extent.Width, extent.Height, target.Extent.Width, target.Extent.Height)
	}

	renderPass, _, err := device.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:  target.Format,
				Samples: core1_0.Samples1,
				// The clear is a full-rect CmdClearAttachments, not a
				// load-op clear, so the attachment contents on load do
				// not matter.
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create render pass")
	}

	framebuffer, _, err := device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  renderPass,
		Attachments: []core1_0.ImageView{target.View},
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		renderPass.Destroy(nil)
		return nil, errors.Wrap(err, "create framebuffer")
	}

	return &Pass{
		RenderPass:  renderPass,
		Framebuffer: framebuffer,
		Extent:      extent,
	}, nil
}

// Destroy releases the framebuffer and render pass.
func (p *Pass) Destroy() {
	if p.Framebuffer != nil {
		p.Framebuffer.Destroy(nil)
		p.Framebuffer = nil
	}
	if p.RenderPass != nil {
		p.RenderPass.Destroy(nil)
		p.RenderPass = nil
	}
}
