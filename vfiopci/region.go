package vfiopci

import "github.com/killvxk/mvisor-x/vfiouapi"

// Region is the passive record built once at attach for every VFIO region
// index the device exposes: its offset into the device descriptor, its
// size, and (if the kernel advertised a capability chain) the sparse mmap
// areas and type/subtype a mediated device uses to mark a framebuffer or
// ROM region. It never changes after discovery.
type Region struct {
	Index      uint32
	Flags      uint32
	HostOffset uint64
	Size       uint64
	Type       uint32
	Subtype    uint32
	MmapAreas  []vfiouapi.RegionSparseMmapArea
}

func (r Region) Readable() bool  { return r.Flags&vfiouapi.VFIO_REGION_INFO_FLAG_READ != 0 }
func (r Region) Writable() bool  { return r.Flags&vfiouapi.VFIO_REGION_INFO_FLAG_WRITE != 0 }
func (r Region) Mappable() bool  { return r.Flags&vfiouapi.VFIO_REGION_INFO_FLAG_MMAP != 0 }
func (r Region) HasSparse() bool { return len(r.MmapAreas) > 0 }

// RegionTable is the full set of regions discovered at attach, indexed by
// VFIO region index (BAR0..BAR5, ROM, config).
type RegionTable []Region

func (t RegionTable) At(index uint32) (Region, bool) {
	for _, r := range t {
		if r.Index == index {
			return r, true
		}
	}
	return Region{}, false
}

// discoverRegions probes every region index the device reported in its
// VFIO_DEVICE_GET_INFO reply and walks each one's capability chain for
// sparse-mmap areas and type/subtype.
func discoverRegions(sys vfiouapi.Syscaller, deviceFd int, numRegions uint32) (RegionTable, error) {
	table := make(RegionTable, 0, numRegions)
	for index := uint32(0); index < numRegions; index++ {
		info, buf, err := vfiouapi.GetRegionInfo(sys, deviceFd, index)
		if err != nil {
			return nil, err
		}

		region := Region{
			Index:      index,
			Flags:      info.Flags,
			HostOffset: info.Offset,
			Size:       info.Size,
		}
		if info.Flags&vfiouapi.VFIO_REGION_INFO_FLAG_CAPS != 0 {
			if areas, ok := vfiouapi.RegionSparseMmapAreas(buf, info.CapOffset); ok {
				region.MmapAreas = areas
			}
			if typ, subtype, ok := vfiouapi.RegionTypeSubtype(buf, info.CapOffset); ok {
				region.Type, region.Subtype = typ, subtype
			}
		}
		table = append(table, region)
	}
	return table, nil
}
