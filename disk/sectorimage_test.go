package disk

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectorImageValidation(t *testing.T) {
	cases := []struct {
		name string
		size int
		ok   bool
	}{
		{"floppy", FloppyDiskBytes, true},
		{"32MiB less a track", 65528 * 512, true},
		{"not block aligned", FloppyDiskBytes + 100, false},
		{"too small", 279 * 512, false},
		{"partial track", 281 * 512, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewSectorImageFromDO(make([]byte, c.size))
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLogicalPhysicalMapsInvert(t *testing.T) {
	for i := 0; i < FloppySectors; i++ {
		assert.Equal(t, i, Dos33PhysicalToLogicalSectorMap[Dos33LogicalToPhysicalSectorMap[i]], "dos33 sector %d", i)
		assert.Equal(t, i, ProDosPhysicalToLogicalSectorMap[ProDOSLogicalToPhysicalSectorMap[i]], "prodos sector %d", i)
	}
}

func TestSectorPermutationInvolution(t *testing.T) {
	seen := make(map[int]bool)
	for s := 0; s < FloppySectors; s++ {
		assert.Equal(t, s, doToPoSector[doToPoSector[s]], "sector %d", s)
		seen[doToPoSector[s]] = true
	}
	assert.Len(t, seen, FloppySectors)
}

func TestDOPORoundTrip(t *testing.T) {
	do := make([]byte, FloppyDiskBytes)
	_, err := rand.Read(do)
	require.NoError(t, err)

	si, err := NewSectorImageFromDO(do)
	require.NoError(t, err)
	po := si.ToPO()
	assert.NotEqual(t, do, po)

	si2, err := NewSectorImageFromPO(po)
	require.NoError(t, err)
	assert.Equal(t, do, si2.ToDO())

	require.NoError(t, si.UpdateFromPO(po))
	assert.Equal(t, do, si.ToDO())
}

func TestSectorPermutationMatchesSwizzle(t *testing.T) {
	do := make([]byte, FloppyDiskBytes)
	_, err := rand.Read(do)
	require.NoError(t, err)

	si, err := NewSectorImageFromDO(do)
	require.NoError(t, err)

	physical, err := Swizzle(do, Dos33LogicalToPhysicalSectorMap)
	require.NoError(t, err)
	po, err := Swizzle(physical, ProDosPhysicalToLogicalSectorMap)
	require.NoError(t, err)
	assert.Equal(t, po, si.ToPO())
}
