package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
)

// mockExecutor records commands and optionally fails them
type mockExecutor struct {
	mu      sync.Mutex
	calls   []uint8
	failOpc uint8
	gate    chan struct{}
}

func (m *mockExecutor) exec(cmd *interfaces.Command) (interfaces.Ret, error) {
	if m.gate != nil {
		<-m.gate
	}

	m.mu.Lock()
	m.calls = append(m.calls, cmd.Opcode)
	m.mu.Unlock()

	if m.failOpc != 0 && cmd.Opcode == m.failOpc {
		return interfaces.Ret{Result: 0x4281}, syscall.EIO
	}
	return interfaces.Ret{}, nil
}

func (m *mockExecutor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestRunner(t *testing.T, depth int, exec *mockExecutor) *Runner {
	t.Helper()
	r, err := NewRunner(context.Background(), Config{Depth: depth, Executor: exec.exec})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestTagStateConstants(t *testing.T) {
	if TagStateFree != 0 {
		t.Errorf("Expected TagStateFree=0, got %d", TagStateFree)
	}
	if TagStateInFlight != 1 {
		t.Errorf("Expected TagStateInFlight=1, got %d", TagStateInFlight)
	}
	if TagStateCompleted != 2 {
		t.Errorf("Expected TagStateCompleted=2, got %d", TagStateCompleted)
	}
	assert.Equal(t, "in-flight", TagStateInFlight.String())
}

func TestRunnerCreation(t *testing.T) {
	exec := &mockExecutor{}
	r := newTestRunner(t, 64, exec)

	assert.Equal(t, 64, r.Depth())
	assert.Equal(t, 0, r.Outstanding())

	states := r.TagStates()
	require.Len(t, states, 64)
	for i, state := range states {
		if state != TagStateFree {
			t.Errorf("Tag %d state should be free, got %s", i, state)
		}
	}

	_, err := NewRunner(context.Background(), Config{Depth: 0, Executor: exec.exec})
	assert.ErrorIs(t, err, syscall.EINVAL)

	_, err = NewRunner(context.Background(), Config{Depth: 4})
	assert.ErrorIs(t, err, syscall.EINVAL)
}

func TestRunnerSubmitWait(t *testing.T) {
	exec := &mockExecutor{}
	r := newTestRunner(t, 8, exec)

	var completed atomic.Int32
	for i := 0; i < 8; i++ {
		err := r.Submit(&interfaces.Command{Opcode: constants.OpcWrite}, func(ret interfaces.Ret, err error) {
			assert.NoError(t, err)
			completed.Add(1)
		})
		require.NoError(t, err)
	}

	n, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, int32(8), completed.Load())
	assert.Equal(t, 0, r.Outstanding())
	assert.Equal(t, 8, exec.count())
}

func TestRunnerDepthLimit(t *testing.T) {
	exec := &mockExecutor{gate: make(chan struct{})}
	r := newTestRunner(t, 2, exec)

	require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcRead}, nil))
	require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcRead}, nil))

	err := r.Submit(&interfaces.Command{Opcode: constants.OpcRead}, nil)
	assert.ErrorIs(t, err, syscall.EAGAIN)
	assert.Equal(t, 2, r.Outstanding())

	close(exec.gate)
	n, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Tags are free again
	require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcRead}, nil))
	_, err = r.Wait()
	require.NoError(t, err)
}

func TestRunnerPoke(t *testing.T) {
	exec := &mockExecutor{}
	r := newTestRunner(t, 4, exec)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcErase}, nil))
	}

	reaped := 0
	for reaped < 4 {
		n, err := r.Poke(1)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 1)
		reaped += n
	}
	assert.Equal(t, 0, r.Outstanding())
}

func TestRunnerErrorPropagation(t *testing.T) {
	exec := &mockExecutor{failOpc: constants.OpcErase}
	r := newTestRunner(t, 4, exec)

	var gotErr error
	var gotRet interfaces.Ret
	require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcErase}, func(ret interfaces.Ret, err error) {
		gotRet, gotErr = ret, err
	}))

	_, err := r.Wait()
	require.NoError(t, err)
	assert.True(t, errors.Is(gotErr, syscall.EIO))
	assert.Equal(t, uint32(0x4281), gotRet.Result)
}

func TestRunnerClose(t *testing.T) {
	exec := &mockExecutor{}
	r, err := NewRunner(context.Background(), Config{Depth: 2, Executor: exec.exec})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Submit(&interfaces.Command{}, nil), ErrClosed)
}

func TestRunnerContextCancellation(t *testing.T) {
	exec := &mockExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewRunner(ctx, Config{Depth: 2, Executor: exec.exec})
	require.NoError(t, err)
	defer r.Close()

	cancel()

	var gotErr error
	require.NoError(t, r.Submit(&interfaces.Command{Opcode: constants.OpcRead}, func(_ interfaces.Ret, err error) {
		gotErr = err
	}))
	_, _ = r.Wait()

	assert.ErrorIs(t, gotErr, context.Canceled)
	assert.Equal(t, 0, exec.count())
}

func BenchmarkRunnerSubmitWait(b *testing.B) {
	exec := &mockExecutor{}
	r, err := NewRunner(context.Background(), Config{Depth: 64, Executor: exec.exec})
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	cmd := &interfaces.Command{Opcode: constants.OpcRead}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Submit(cmd, nil); err != nil {
			b.Fatal(err)
		}
		if _, err := r.Wait(); err != nil {
			b.Fatal(err)
		}
	}
}
