package consumer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	err error
}

func (m *mockHandler) Handle(_ context.Context, _ any) error {
	return m.err
}

func TestNewIgnoreErrorsMiddleware(t *testing.T) {
	t.Parallel()

	middleware := NewIgnoreErrorsMiddleware[any](slog.New(slog.DiscardHandler))

	t.Run("handler returns error", func(t *testing.T) {
		handler := &mockHandler{err: fmt.Errorf("test error")}
		mwHandler := middleware(handler.Handle)

		err := mwHandler(context.Background(), "test message")
		require.NoError(t, err)
	})

	t.Run("handler returns no error", func(t *testing.T) {
		handler := &mockHandler{err: nil}
		mwHandler := middleware(handler.Handle)

		err := mwHandler(context.Background(), "test message")
		require.NoError(t, err)
	})

	t.Run("nil logger", func(t *testing.T) {
		handler := &mockHandler{err: fmt.Errorf("test error")}

		err := NewIgnoreErrorsMiddleware[any](nil)(handler.Handle)(context.Background(), "test message")
		require.NoError(t, err)
	})
}

func TestNewPanicRecoverMiddleware(t *testing.T) {
	t.Parallel()

	middleware := NewPanicRecoverMiddleware[string]()

	t.Run("handler panics", func(t *testing.T) {
		mwHandler := middleware(func(_ context.Context, _ string) error {
			panic("boom")
		})

		err := mwHandler(context.Background(), "test message")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("handler does not panic", func(t *testing.T) {
		mwHandler := middleware(func(_ context.Context, _ string) error {
			return nil
		})

		require.NoError(t, mwHandler(context.Background(), "test message"))
	})
}

func TestNewTimeLimitMiddleware(t *testing.T) {
	t.Parallel()

	middleware := NewTimeLimitMiddleware[string](20 * time.Millisecond)

	t.Run("handler exceeds the limit", func(t *testing.T) {
		mwHandler := middleware(func(ctx context.Context, _ string) error {
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}

			return nil
		})

		assert.ErrorIs(t, mwHandler(context.Background(), "test message"), context.DeadlineExceeded)
	})

	t.Run("handler finishes in time", func(t *testing.T) {
		mwHandler := middleware(func(_ context.Context, _ string) error {
			return fmt.Errorf("handler error")
		})

		assert.EqualError(t, mwHandler(context.Background(), "test message"), "handler error")
	})
}

func TestNewLoggingMiddleware(t *testing.T) {
	t.Parallel()

	var (
		buf        bytes.Buffer
		logger     = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		middleware = NewLoggingMiddleware[string](logger)
	)

	require.NoError(t, middleware(func(_ context.Context, _ string) error { return nil })(context.Background(), "ok"))
	assert.Contains(t, buf.String(), "handler succeeded")

	err := middleware(func(_ context.Context, _ string) error {
		return fmt.Errorf("test error")
	})(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "handler failed")
	assert.Contains(t, buf.String(), "test error")
}
