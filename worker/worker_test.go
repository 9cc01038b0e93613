package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecuteRecoversPanic(t *testing.T) {
	r := New(nil, zaptest.NewLogger(t), nil, 0)

	err := r.execute(context.Background(), 1, "demo.job", func(ctx context.Context, data []byte) error {
		panic("boom")
	}, nil)

	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestExecutePropagatesHandlerError(t *testing.T) {
	r := New(nil, zaptest.NewLogger(t), nil, 0)
	wantErr := errors.New("handler failed")

	err := r.execute(context.Background(), 1, "demo.job", func(ctx context.Context, data []byte) error {
		return wantErr
	}, nil)

	require.ErrorIs(t, err, wantErr)
}

func TestJobTypesReflectsRegisteredHandlers(t *testing.T) {
	r := New(nil, zaptest.NewLogger(t), nil, 0)
	r.RegisterHandler("a", func(ctx context.Context, data []byte) error { return nil })
	r.RegisterHandler("b", func(ctx context.Context, data []byte) error { return nil })

	types := r.jobTypes()
	require.ElementsMatch(t, []string{"a", "b"}, types)
}
