package mm

// Zone describes a contiguous span of frames that belong to the same memory
// zone on a particular NUMA node.
type Zone struct {
	// Name is the zone name as shown in boot logs (e.g. "Normal").
	Name string

	// Node is the NUMA node that the zone belongs to.
	Node int

	// StartFrame is the first frame in the zone.
	StartFrame Frame

	// SpannedPages is the number of frames the zone spans.
	SpannedPages uint64

	// HighMem is set for zones that are not covered by the direct map.
	HighMem bool
}

// EndFrame returns the first frame past the end of the zone.
func (z *Zone) EndFrame() Frame {
	return z.StartFrame + Frame(z.SpannedPages)
}

// SplitZones partitions the frames in [0, frameCount) into a "Normal" zone
// covering the direct-mapped frames below maxLowFrame and a "HighMem" zone for
// the rest. Empty zones are omitted.
func SplitZones(node int, frameCount uint64, maxLowFrame Frame) []Zone {
	var zones []Zone

	if low := uint64(maxLowFrame); low != 0 {
		if low > frameCount {
			low = frameCount
		}
		zones = append(zones, Zone{Name: "Normal", Node: node, SpannedPages: low})
	}

	if uint64(maxLowFrame) < frameCount {
		zones = append(zones, Zone{
			Name:         "HighMem",
			Node:         node,
			StartFrame:   maxLowFrame,
			SpannedPages: frameCount - uint64(maxLowFrame),
			HighMem:      true,
		})
	}

	return zones
}
