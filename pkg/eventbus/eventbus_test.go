package eventbus

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/pkg/logging"
)

type args struct {
	data interface{}
}

func bufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublisher_Publish_NoMatch(t *testing.T) {
	type other struct{ data interface{} }

	log, buf := bufferedLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)
	bus.Subscribe(func(e *args) { t.Error("should not be called") })

	bus.Publish(&other{data: "test"})

	assert.Contains(t, buf.String(), "eventbus.Publish: no matching subscribers")
}

func TestPublisher_Subscribe(t *testing.T) {
	bus := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	var got interface{}
	bus.Subscribe(func(e *args) { got = e.data })

	bus.Publish(&args{data: "test"})

	assert.Equal(t, "test", got)
}

func TestMatchSignature(t *testing.T) {
	type a struct{}
	type b struct{}

	assert.True(t, MatchSignature(func(e *a) {}, []interface{}{&a{}}))
	assert.False(t, MatchSignature(func(e *a) {}, []interface{}{&b{}}))
	assert.False(t, MatchSignature(func(e *a) {}, []interface{}{}))
	assert.False(t, MatchSignature(func(e *a) {}, []interface{}{&a{}, &a{}}))
	assert.True(t, MatchSignature(func(ctx context.Context) {}, []interface{}{context.Background()}))
	assert.True(t, MatchSignature(func(e *a) {}, []interface{}{nil}))
	assert.False(t, MatchSignature(func(n int) {}, []interface{}{nil}))
	assert.False(t, MatchSignature("not a func", []interface{}{}))
}

func TestPublisher_PanicRecovery(t *testing.T) {
	t.Parallel()

	t.Run("panic is logged with args", func(t *testing.T) {
		log, buf := bufferedLogger(logrus.ErrorLevel)
		bus := NewEventPublisher(log)
		bus.Subscribe(func(e *args) { panic("intentional panic for testing") })

		require.NotPanics(t, func() { bus.Publish(&args{data: "important-data"}) })

		out := buf.String()
		assert.Contains(t, out, "panicked")
		assert.Contains(t, out, "intentional panic for testing")
		assert.Contains(t, out, "important-data")
	})

	t.Run("other handlers still run", func(t *testing.T) {
		log, buf := bufferedLogger(logrus.WarnLevel)
		bus := NewEventPublisher(log)

		var first, third bool
		bus.Subscribe(func(e *args) { first = true })
		bus.Subscribe(func(e *args) { panic("handler 2 panic") })
		bus.Subscribe(func(e *args) { third = true })

		bus.Publish(&args{data: "test"})

		assert.True(t, first)
		assert.True(t, third)
		assert.Contains(t, buf.String(), "panicked")
		assert.NotContains(t, buf.String(), "no matching subscribers")
	})

	t.Run("all handlers panicking counts as unhandled", func(t *testing.T) {
		log, buf := bufferedLogger(logrus.WarnLevel)
		bus := NewEventPublisher(log)
		bus.Subscribe(func(e *args) { panic("always panics") })

		bus.Publish(&args{data: "test"})

		assert.Contains(t, buf.String(), "no matching subscribers")
	})

	t.Run("nil pointer argument", func(t *testing.T) {
		log, buf := bufferedLogger(logrus.ErrorLevel)
		bus := NewEventPublisher(log)
		bus.Subscribe(func(e *args) { _ = e.data.(string) })

		bus.Publish(&args{data: nil})

		assert.Contains(t, buf.String(), "panicked")
	})
}

func TestPublisher_PublishE(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrNoSubscribers when none match", func(t *testing.T) {
		bus := NewEventPublisher(logrus.New()).(EventBusWithError)
		err := bus.PublishE(&args{data: "x"})
		require.ErrorIs(t, err, ErrNoSubscribers)
	})

	t.Run("joins handler errors", func(t *testing.T) {
		bus := NewEventPublisher(logrus.New()).(EventBusWithError)
		err1 := errors.New("err1")
		err2 := errors.New("err2")
		bus.Subscribe(func(e *args) error { return err1 })
		bus.Subscribe(func(e *args) error { return err2 })

		err := bus.PublishE(&args{data: "x"})
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
	})

	t.Run("panic surfaces as error", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		called := false
		bus.Subscribe(func(e *args) error { panic("boom") })
		bus.Subscribe(func(e *args) error { called = true; return nil })

		err := bus.PublishE(&args{data: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, called)
	})

	t.Run("invalid handler return", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		bus.Subscribe(func(e *args) int { return 1 })

		err := bus.PublishE(&args{data: "x"})
		require.ErrorIs(t, err, ErrInvalidHandlerReturn)
	})
}

func TestPublisher_Unsubscribe(t *testing.T) {
	bus := NewEventPublisher(nil)
	calls := 0
	handler := func(e *args) { calls++ }
	other := func(e *args) {}

	bus.Subscribe(handler)
	bus.Subscribe(other)
	require.Equal(t, 2, bus.SubscribersCount())

	bus.Unsubscribe(handler)
	require.Equal(t, 1, bus.SubscribersCount())

	bus.Publish(&args{})
	assert.Equal(t, 0, calls)

	bus.Clear()
	assert.Equal(t, 0, bus.SubscribersCount())
}

func TestPublisher_ConcurrentPublish(t *testing.T) {
	bus := NewEventPublisher(nil)
	var n atomic.Int64
	bus.Subscribe(func(e *args) { n.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(&args{})
			bus.Subscribe(func(e *args) {})
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, n.Load(), int64(32))
}

func TestPublisher_HandlerMaySubscribe(t *testing.T) {
	bus := NewEventPublisher(nil)
	bus.Subscribe(func(e *args) {
		bus.Subscribe(func(e *args) {})
	})

	require.NotPanics(t, func() { bus.Publish(&args{}) })
	assert.Equal(t, 2, bus.SubscribersCount())
}
