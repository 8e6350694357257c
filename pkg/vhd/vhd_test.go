package vhd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/djs55/vhddisk/pkg/elog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifferencingDiskFallsBackToParent(t *testing.T) {
	dir := t.TempDir()
	parentPath := filepath.Join(dir, "base.vhd")
	childPath := filepath.Join(dir, "child.vhd")

	parent, err := CreateNewDynamic(parentPath, 4*defaultBlockSize, CreateOptions{}, elog.Nop{})
	require.NoError(t, err)

	parentData := make([]byte, sectorSize)
	parentData[0] = 0x11
	require.NoError(t, parent.WriteSector(0, parentData))
	require.NoError(t, parent.Close())

	child, err := CreateNewDifference(childPath, parentPath, CreateOptions{}, elog.Nop{})
	require.NoError(t, err)
	defer child.Close()

	// Unwritten sector 0 on the child must read through to the parent.
	out := make([]byte, sectorSize)
	require.NoError(t, child.ReadSector(0, out))
	assert.Equal(t, parentData, out)

	// A child write shadows the parent without mutating it.
	childData := make([]byte, sectorSize)
	childData[0] = 0x22
	require.NoError(t, child.WriteSector(0, childData))

	require.NoError(t, child.ReadSector(0, out))
	assert.Equal(t, childData, out)

	reopenedParent, err := Load(parentPath, elog.Nop{})
	require.NoError(t, err)
	defer reopenedParent.Close()
	require.NoError(t, reopenedParent.ReadSector(0, out))
	assert.Equal(t, parentData, out)
}

func TestLoadResolvesParentChain(t *testing.T) {
	dir := t.TempDir()
	parentPath := filepath.Join(dir, "base.vhd")
	childPath := filepath.Join(dir, "child.vhd")

	parent, err := CreateNewDynamic(parentPath, 2*defaultBlockSize, CreateOptions{}, elog.Nop{})
	require.NoError(t, err)
	require.NoError(t, parent.Close())

	child, err := CreateNewDifference(childPath, parentPath, CreateOptions{}, elog.Nop{})
	require.NoError(t, err)
	require.NoError(t, child.Close())

	loaded, err := Load(childPath, elog.Nop{})
	require.NoError(t, err)
	defer loaded.Close()

	require.NotNil(t, loaded.Parent())
	assert.Equal(t, DiskTypeDifferencing, loaded.DiskType())
	assert.Equal(t, parentPath, loaded.Parent().Path())
}

func TestLoadRejectsTooSmallFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.vhd")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0644))

	_, err := Load(path, elog.Nop{})
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindMalformedFormat))
}

func TestLoadRejectsReservedDiskType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dyn.vhd")

	v, err := CreateNewDynamic(path, defaultBlockSize, CreateOptions{}, elog.Nop{})
	require.NoError(t, err)
	v.footer.DiskType = DiskType(1) // "Reserved (deprecated)" per the format, never Fixed/Dynamic/Differencing/None
	copy(v.mapped[0:footerSize], v.footer.Marshal())
	require.NoError(t, v.Close())

	_, err = Load(path, elog.Nop{})
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindMalformedFormat))
}
