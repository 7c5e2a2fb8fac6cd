package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := NewManager()
	var order []string
	for _, name := range []string{"journal", "bus", "http"} {
		name := name
		m.OnShutdown(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	m.Shutdown(context.Background())
	assert.Equal(t, []string{"http", "bus", "journal"}, order)
}

func TestShutdownContinuesAfterError(t *testing.T) {
	m := NewManager()
	calls := 0
	m.OnShutdown("a", func(ctx context.Context) error { calls++; return nil })
	m.OnShutdown("b", func(ctx context.Context) error { calls++; return errors.New("boom") })

	m.Shutdown(context.Background())
	assert.Equal(t, 2, calls)
}

func TestShutdownOnlyOnce(t *testing.T) {
	m := NewManager()
	calls := 0
	m.OnShutdown("a", func(ctx context.Context) error { calls++; return nil })

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	assert.Equal(t, 1, calls)
}

func TestShutdownPassesContext(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	m.OnShutdown("a", func(ctx context.Context) error { seen = ctx.Err(); return nil })
	m.Shutdown(ctx)
	assert.ErrorIs(t, seen, context.Canceled)
}
