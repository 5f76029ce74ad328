// Package memtype maps a resource's memory requirements to a concrete
// memory type index on the physical device.
package memtype

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// ErrNoSuitableMemoryType indicates that no memory type on the device
// satisfies both the requirement bitmask and the requested property
// flags. There is no fallback tier: callers treat this as fatal to the
// cycle.
var ErrNoSuitableMemoryType = errors.New("no suitable memory type")

// Select returns the lowest-indexed memory type that is allowed by
// typeBits and whose property flags are a superset of required. The
// scan is a deterministic first match in ascending index order; it
// does not prefer smaller heaps or exact flag matches.
func Select(types []core1_0.MemoryType, typeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range types {
		typeBit := uint32(1) << i

		if typeBits&typeBit != 0 && memoryType.PropertyFlags&required == required {
			return i, nil
		}
	}

	return 0, errors.Wrapf(ErrNoSuitableMemoryType, "type bits %#x, required flags %s", typeBits, required)
}

// SelectFor is a convenience wrapper over Select for a resource's
// queried memory requirements.
func SelectFor(types []core1_0.MemoryType, reqs *core1_0.MemoryRequirements, required core1_0.MemoryPropertyFlags) (int, error) {
	return Select(types, reqs.MemoryTypeBits, required)
}
