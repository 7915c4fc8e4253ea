package lightnvm

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncOnly hides the asynchronous interface of a backend
type syncOnly struct{ Backend }

func chunkAddrs(chunk, n int) []Addr {
	addrs := make([]Addr, n)
	for i := range addrs {
		addrs[i] = AddrS20(0, 1, chunk, i)
	}
	return addrs
}

func TestAsyncWriteRead(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	actx, err := dev.AsyncInit(4, 0)
	require.NoError(t, err)
	defer actx.Close()
	assert.Equal(t, 4, actx.Depth())

	addrs := chunkAddrs(3, 8)
	data := make([]byte, 8*512)
	BufFill(data)

	var rets []error
	cb := func(_ Ret, err error) { rets = append(rets, err) }
	require.NoError(t, dev.SubmitAsync(actx, OpcWrite, addrs[:4], data[:2048], nil, 0, cb))
	require.NoError(t, dev.SubmitAsync(actx, OpcWrite, addrs[4:], data[2048:], nil, 0, cb))

	_, err = actx.Wait()
	require.NoError(t, err)
	require.Len(t, rets, 2)
	assert.NoError(t, rets[0])
	assert.NoError(t, rets[1])
	assert.Zero(t, actx.Outstanding())

	got := make([]byte, len(data))
	done := false
	require.NoError(t, dev.SubmitAsync(actx, OpcRead, addrs, got, nil, 0, func(_ Ret, err error) {
		assert.NoError(t, err)
		done = true
	}))
	_, err = actx.Wait()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, data, got)

	assert.Equal(t, 2, m.CallCount(OpWrite))
	assert.Equal(t, uint64(2), dev.MetricsSnapshot().Write.Ops)
	assert.Equal(t, uint64(1), dev.MetricsSnapshot().Read.Ops)
}

func TestAsyncQueueFullIsReaped(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	actx, err := dev.AsyncInit(1, 0)
	require.NoError(t, err)
	defer actx.Close()

	completed := 0
	buf := make([]byte, 4*512)
	for chunk := 0; chunk < 3; chunk++ {
		err := dev.SubmitAsync(actx, OpcWrite, chunkAddrs(chunk, 4), buf, nil, 0, func(_ Ret, err error) {
			assert.NoError(t, err)
			completed++
		})
		require.NoError(t, err)
	}
	_, err = actx.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, completed)
}

func TestAsyncFailureCallback(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	actx, err := dev.AsyncInit(0, 0)
	require.NoError(t, err)
	defer actx.Close()
	assert.Equal(t, DefaultAsyncDepth, actx.Depth())

	m.FailOp(OpErase, Ret{Status: 0x4281}, syscall.EIO)

	addrs := []Addr{AddrS20(1, 0, 6, 0)}
	var got error
	require.NoError(t, dev.SubmitAsync(actx, OpcErase, addrs, nil, nil, 0, func(_ Ret, err error) { got = err }))
	_, err = actx.Wait()
	require.NoError(t, err)

	var e *Error
	require.ErrorAs(t, got, &e)
	assert.Equal(t, uint64(0x4281), e.Status)
	assert.Equal(t, syscall.EIO, e.Errno)
	require.NotNil(t, e.Addr)
	assert.Equal(t, addrs[0], *e.Addr)
	assert.Equal(t, uint64(1), dev.MetricsSnapshot().Erase.Errors)
}

func TestAsyncValidation(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	actx, err := dev.AsyncInit(8, 0)
	require.NoError(t, err)
	defer actx.Close()

	addrs := chunkAddrs(0, 4)
	buf := make([]byte, 4*512)

	err = dev.SubmitAsync(actx, OpcCopy, addrs, nil, nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeNotSupported))

	err = dev.SubmitAsync(actx, OpcWrite, addrs, nil, nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	err = dev.SubmitAsync(actx, OpcWrite, addrs, buf[:512], nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	err = dev.SubmitAsync(actx, OpcErase, addrs[:1], buf, nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	err = dev.SubmitAsync(actx, OpcRead, []Addr{AddrS20(0, 0, 8, 0)}, buf[:512], nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeOutOfBounds))

	err = dev.SubmitAsync(nil, OpcRead, addrs, buf, nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	require.NoError(t, dev.SetReadNaddrsMax(4))
	err = dev.SubmitAsync(actx, OpcRead, chunkAddrs(0, 8), make([]byte, 8*512), nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	assert.Zero(t, actx.Outstanding())
}

func TestAsyncForeignContext(t *testing.T) {
	a, _ := openMock(t, testGeoS20.Identify())
	b, _ := openMock(t, testGeoS20.Identify())
	actx, err := a.AsyncInit(2, 0)
	require.NoError(t, err)
	defer actx.Close()

	err = b.SubmitAsync(actx, OpcRead, chunkAddrs(0, 4), make([]byte, 4*512), nil, 0, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestAsyncNotSupported(t *testing.T) {
	cfg := DefaultConfig(nil)
	cfg.Logger = quietLogger(nil)
	dev, err := OpenBackend("/dev/nvme0n1", syncOnly{NewMockBackend(testGeoS20.Identify())}, BeIoctl, cfg)
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.AsyncInit(4, 0)
	assert.True(t, IsCode(err, ErrCodeNotSupported))
}
