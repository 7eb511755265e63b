// create.go builds freshly formatted DOS 3.3 disk images: a VTOC on
// track 17 sector 0, the catalog chain running from sector 15 down to
// sector 1, and a free-sector bitmap with the boot track and catalog
// track reserved.

package dos3

import (
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
)

// CreateDiskBytes returns a 143360-byte formatted DOS 3.3 disk image
// in logical (DO) order, with the given volume number (1-254). No
// DOS system image is written to the boot track; the track is simply
// reserved, as INIT would leave it.
func CreateDiskBytes(volume byte) ([]byte, error) {
	if volume < 1 || volume > 254 {
		return nil, diskerr.OutOfRangef("volume number must be 1-254; got %d", volume)
	}
	data := make([]byte, disk.FloppyDiskBytes)

	v := DefaultVTOC()
	v.SetTrack(VTOCTrack)
	v.SetSector(VTOCSector)
	v.Volume = volume
	v.LastTrack = VTOCTrack
	// Track 0 holds the boot image; track 17 holds the VTOC and
	// catalog. Both are fully reserved.
	v.FreeSectors[0] = TrackFreeSectors{}
	v.FreeSectors[VTOCTrack] = TrackFreeSectors{}
	if err := disk.MarshalLogicalSector(data, &v); err != nil {
		return nil, err
	}

	for sector := byte(15); sector >= 1; sector-- {
		cs := CatalogSector{}
		cs.SetTrack(VTOCTrack)
		cs.SetSector(sector)
		if sector > 1 {
			cs.NextTrack = VTOCTrack
			cs.NextSector = sector - 1
		}
		if err := disk.MarshalLogicalSector(data, &cs); err != nil {
			return nil, err
		}
	}
	return data, nil
}
