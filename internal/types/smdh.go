package types

const (
	// SMDHMagic identifies an icon resource ("SMDH").
	SMDHMagic = "SMDH"
	// SMDHSize is the fixed size of an SMDH icon resource.
	SMDHSize = 0x36C0
	// SMDHRegionLockoutOffset is the byte offset of the region lockout
	// bitmask inside the SMDH.
	SMDHRegionLockoutOffset = 0x2018
)

// Region is a console region index, also the bit position of that region in
// the SMDH region lockout bitmask.
type Region uint32

// Defined regions, in lockout-bit order.
const (
	RegionJapan Region = iota
	RegionNorthAmerica
	RegionEurope
	RegionAustralia
	RegionChina
	RegionKorea
	RegionTaiwan

	// RegionCount is the number of defined regions.
	RegionCount = 7
)

var regionNames = [RegionCount]string{
	"Japan", "North America", "Europe", "Australia", "China", "Korea", "Taiwan",
}

func (r Region) String() string {
	if int(r) < len(regionNames) {
		return regionNames[r]
	}
	return "Unknown"
}

// SMDH mirrors the fields of the icon resource consumed by the loader. The
// short/long title tables and icon bitmaps are carried as raw bytes.
type SMDH struct {
	Magic   [4]byte
	Version uint16
	// RegionLockout is a bitmask of regions the title may run in; bit n set
	// permits Region(n).
	RegionLockout uint32
	MatchMakerID  uint32
}

// FirstPermittedRegion returns the lowest region whose lockout bit is set,
// in defined-region order. ok is false when no bit is set.
func (s *SMDH) FirstPermittedRegion() (region Region, ok bool) {
	mask := s.RegionLockout
	for r := Region(0); r < RegionCount; r++ {
		if mask&1 != 0 {
			return r, true
		}
		mask >>= 1
	}
	return 0, false
}
