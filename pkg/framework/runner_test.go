package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerStopsSiblings(t *testing.T) {
	errBoom := errors.New("boom")
	r := NewRunner().Go(
		NamedRun("blocker", RunFunc(blockUntilDone)),
		NamedRun("failer", RunFunc(func(context.Context) error { return errBoom })),
		RunFunc(blockUntilDone),
	)
	err := r.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, errBoom))
	require.Equal(t, "failer: boom", err.Error())
}

func TestRunnerCleanExit(t *testing.T) {
	r := NewRunner().Go(
		RunFunc(blockUntilDone),
		RunFunc(func(context.Context) error { return nil }),
	)
	require.NoError(t, r.Wait())

	r = NewRunner().Go(RunFunc(blockUntilDone))
	r.Stop()
	require.NoError(t, r.Wait())
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	e1, e2 := errors.New("e1"), errors.New("e2")
	err := errs.Add(e1, nil, e2).Aggregate()
	require.Equal(t, "multiple errors:\n  e1\n  e2", err.Error())
	require.True(t, errors.Is(err, e2))
}

func TestRunWithContextCloser(t *testing.T) {
	testCases := []struct {
		name   string
		cancel bool
		err    error
	}{
		{"canceled", true, context.Canceled},
		{"returned", false, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			closeCh := make(chan struct{})
			var closes int
			closer := closerFunc(func() error {
				closes++
				close(closeCh)
				return nil
			})
			if tc.cancel {
				time.AfterFunc(10*time.Millisecond, cancel)
			}
			err := RunWithContextCloser(ctx, closer, func() error {
				if tc.cancel {
					<-closeCh
				}
				return nil
			})
			require.Equal(t, tc.err, err)
			require.Equal(t, 1, closes)
		})
	}
}
