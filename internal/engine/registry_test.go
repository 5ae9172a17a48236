package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

func intp(v int) *int { return &v }

func addTestExecutor(ms *mockStore, id, service string, minV, maxV *int, locked bool) {
	ms.addExecutor(
		&store.Executor{ID: id, Address: "10.0.0.1", Port: 8080, BaseURI: "/" + id, Locked: locked},
		[]*store.ExecutorCapability{{
			ID: id + "-cap", ExecutorID: id, Service: service, MinVersion: minV, MaxVersion: maxV,
		}},
	)
}

func refreshedRegistry(t *testing.T, ms *mockStore) *ExecutorRegistry {
	t.Helper()
	r := NewExecutorRegistry(ms, slog.Default())
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func TestAcquirePicksLowestID(t *testing.T) {
	ms := newMockStore()
	addTestExecutor(ms, "exec-b", "camera", nil, nil, false)
	addTestExecutor(ms, "exec-a", "camera", nil, nil, false)
	r := refreshedRegistry(t, ms)

	exec, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)
	assert.Equal(t, "exec-a", exec.ID)
}

func TestAcquireSkipsReserved(t *testing.T) {
	ms := newMockStore()
	addTestExecutor(ms, "exec-a", "camera", nil, nil, false)
	addTestExecutor(ms, "exec-b", "camera", nil, nil, false)
	r := refreshedRegistry(t, ms)

	first, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)
	assert.Equal(t, "exec-a", first.ID)
	assert.True(t, r.Reserved("exec-a"))

	second, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)
	assert.Equal(t, "exec-b", second.ID)

	// Both busy now.
	_, err = r.Acquire(schema.Capability{Service: "camera"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNoExecutor))

	r.Release("exec-a")
	third, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)
	assert.Equal(t, "exec-a", third.ID)
}

func TestAcquireSkipsLocked(t *testing.T) {
	ms := newMockStore()
	addTestExecutor(ms, "exec-a", "camera", nil, nil, true)
	r := refreshedRegistry(t, ms)

	_, err := r.Acquire(schema.Capability{Service: "camera"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNoExecutor))
}

func TestAcquireUnknownService(t *testing.T) {
	ms := newMockStore()
	addTestExecutor(ms, "exec-a", "camera", nil, nil, false)
	r := refreshedRegistry(t, ms)

	_, err := r.Acquire(schema.Capability{Service: "thermostat"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNoExecutor))
}

func TestVersionRangeMatching(t *testing.T) {
	cases := []struct {
		name           string
		reqMin, reqMax *int
		havMin, havMax *int
		want           bool
	}{
		{"both unbounded", nil, nil, nil, nil, true},
		{"overlap", intp(2), intp(5), intp(4), intp(9), true},
		{"inclusive edge", intp(1), intp(3), intp(3), intp(7), true},
		{"disjoint below", intp(5), intp(9), intp(1), intp(4), false},
		{"disjoint above", intp(1), intp(2), intp(3), nil, false},
		{"request unbounded", nil, nil, intp(3), intp(4), true},
		{"advertised unbounded min", intp(1), intp(2), nil, intp(1), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms := newMockStore()
			addTestExecutor(ms, "exec-a", "camera", tc.havMin, tc.havMax, false)
			r := refreshedRegistry(t, ms)

			_, err := r.Acquire(schema.Capability{
				Service: "camera", MinVersion: tc.reqMin, MaxVersion: tc.reqMax,
			})
			if tc.want {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, schema.IsCode(err, schema.ErrCodeNoExecutor))
			}
		})
	}
}

func TestRefreshKeepsReservations(t *testing.T) {
	ms := newMockStore()
	addTestExecutor(ms, "exec-a", "camera", nil, nil, false)
	r := refreshedRegistry(t, ms)

	_, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)

	// A concurrent registration triggers a reload; the reservation must hold.
	addTestExecutor(ms, "exec-b", "camera", nil, nil, false)
	require.NoError(t, r.Refresh(context.Background()))

	assert.True(t, r.Reserved("exec-a"))
	exec, err := r.Acquire(schema.Capability{Service: "camera"})
	require.NoError(t, err)
	assert.Equal(t, "exec-b", exec.ID)
}
