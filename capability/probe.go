// Package capability queries the static capability tables of a
// physical device: memory types, memory heaps, and queue families.
// The probe is a pure read; selection errors surface downstream when
// a consumer asks for something the device does not have.
package capability

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// DeviceProfile is the capability snapshot of a single physical
// device, enumerated once and treated as immutable reference data.
type DeviceProfile struct {
	Properties    *core1_0.PhysicalDeviceProperties
	MemoryTypes   []core1_0.MemoryType
	MemoryHeaps   []core1_0.MemoryHeap
	QueueFamilies []*core1_0.QueueFamilyProperties
}

// Probe reads the memory and queue family tables from gpu.
func Probe(gpu core1_0.PhysicalDevice) (*DeviceProfile, error) {
	properties, err := gpu.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "query physical device properties")
	}

	memoryProperties := gpu.MemoryProperties()

	return &DeviceProfile{
		Properties:    properties,
		MemoryTypes:   memoryProperties.MemoryTypes,
		MemoryHeaps:   memoryProperties.MemoryHeaps,
		QueueFamilies: gpu.QueueFamilyProperties(),
	}, nil
}

// SelectQueueFamily returns the lowest-indexed queue family whose
// flags contain every flag in required.
func (p *DeviceProfile) SelectQueueFamily(required core1_0.QueueFlags) (int, error) {
	for familyIndex, family := range p.QueueFamilies {
		if family.QueueFlags&required == required {
			return familyIndex, nil
		}
	}

	return 0, errors.Newf("no queue family supports %s", required)
}

// Log writes the diagnostic capability dump. This mirrors what a
// human would check first when a readback comes back wrong: which
// memory types are host-visible and coherent, and which families can
// run graphics and transfer work.
func (p *DeviceProfile) Log(log *slog.Logger) {
	log.Info("physical device",
		slog.String("name", p.Properties.DriverName),
		slog.String("type", p.Properties.DriverType.String()),
		slog.Uint64("apiVersion", uint64(p.Properties.APIVersion)),
		slog.Uint64("driverVersion", uint64(p.Properties.DriverVersion)),
		slog.Uint64("vendorID", uint64(p.Properties.VendorID)),
		slog.Uint64("deviceID", uint64(p.Properties.DeviceID)),
	)

	for i, memoryType := range p.MemoryTypes {
		log.Info("memory type",
			slog.Int("index", i),
			slog.Int("heap", memoryType.HeapIndex),
			slog.Bool("deviceLocal", memoryType.PropertyFlags&core1_0.MemoryPropertyDeviceLocal != 0),
			slog.Bool("hostVisible", memoryType.PropertyFlags&core1_0.MemoryPropertyHostVisible != 0),
			slog.Bool("hostCoherent", memoryType.PropertyFlags&core1_0.MemoryPropertyHostCoherent != 0),
			slog.Bool("hostCached", memoryType.PropertyFlags&core1_0.MemoryPropertyHostCached != 0),
			slog.Bool("lazilyAllocated", memoryType.PropertyFlags&core1_0.MemoryPropertyLazilyAllocated != 0),
		)
	}

	for i, heap := range p.MemoryHeaps {
		log.Info("memory heap",
			slog.Int("index", i),
			slog.Int("size", heap.Size),
			slog.Bool("deviceLocal", heap.Flags&core1_0.MemoryHeapDeviceLocal != 0),
		)
	}

	for i, family := range p.QueueFamilies {
		log.Info("queue family",
			slog.Int("index", i),
			slog.Int("queues", family.QueueCount),
			slog.Bool("graphics", family.QueueFlags&core1_0.QueueGraphics != 0),
			slog.Bool("compute", family.QueueFlags&core1_0.QueueCompute != 0),
			slog.Bool("transfer", family.QueueFlags&core1_0.QueueTransfer != 0),
		)
	}
}
