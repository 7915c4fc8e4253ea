package backend

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
)

type recordingRegistrar struct {
	names map[int]string
	fail  int
}

func (r *recordingRegistrar) Register(id int, name string, _ interfaces.Opener) error {
	if id == r.fail {
		return syscall.EEXIST
	}
	r.names[id] = name
	return nil
}

func TestRegisterAll(t *testing.T) {
	reg := &recordingRegistrar{names: make(map[int]string)}
	require.NoError(t, RegisterAll(reg))

	assert.Equal(t, map[int]string{
		constants.BeIoctl: "IOCTL",
		constants.BeLbd:   "LBD",
		constants.BeSpdk:  "SPDK",
		constants.BeNocd:  "NOCD",
		constants.BeSim:   "SIM",
	}, reg.names)
}

func TestRegisterAllStopsOnError(t *testing.T) {
	reg := &recordingRegistrar{names: make(map[int]string), fail: constants.BeNocd}
	assert.ErrorIs(t, RegisterAll(reg), syscall.EEXIST)
	assert.Len(t, reg.names, 3)
}

func TestNosys(t *testing.T) {
	be, err := OpenNosys("/dev/nvme0n1", interfaces.OpenWritable)
	assert.Nil(t, be)
	assert.ErrorIs(t, err, syscall.ENOSYS)

	var n interfaces.Backend = Nosys{}
	_, err = n.Identify()
	assert.ErrorIs(t, err, syscall.ENOSYS)
	_, err = n.Erase(nil, nil, 0)
	assert.ErrorIs(t, err, syscall.ENOSYS)
	_, err = n.Write(nil, nil, nil, 0)
	assert.ErrorIs(t, err, syscall.ENOSYS)
	_, err = n.Read(nil, nil, nil, 0)
	assert.ErrorIs(t, err, syscall.ENOSYS)
	_, err = n.Copy(nil, nil, 0)
	assert.ErrorIs(t, err, syscall.ENOSYS)
	assert.NoError(t, n.Close())
}
