package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPriorityOrder(t *testing.T) {
	reg := NewRegistry(nil)

	var order []string
	appendHook := func(name string) Func {
		return func(c Context) Context {
			order = append(order, name)
			return c
		}
	}

	reg.Register("late", EventToolWillExecute, 50, appendHook("late"))
	reg.Register("early", EventToolWillExecute, 1, appendHook("early"))
	reg.Register("mid", EventToolWillExecute, 10, appendHook("mid"))

	reg.Trigger(EventToolWillExecute, Context{})
	assert.Equal(t, []string{"early", "mid", "late"}, order)
}

func TestTriggerMergesGlobalHooksByPriority(t *testing.T) {
	reg := NewRegistry(nil)

	var order []string
	appendHook := func(name string) Func {
		return func(c Context) Context {
			order = append(order, name)
			return c
		}
	}

	reg.Register("specific-5", EventToolDidExecute, 5, appendHook("specific-5"))
	reg.Register("global-1", EventAll, 1, appendHook("global-1"))
	reg.Register("global-9", EventAll, 9, appendHook("global-9"))

	reg.Trigger(EventToolDidExecute, Context{})
	assert.Equal(t, []string{"global-1", "specific-5", "global-9"}, order)
}

func TestTriggerStableForEqualPriority(t *testing.T) {
	reg := NewRegistry(nil)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg.Register(name, EventModeChanged, 7, func(c Context) Context {
			order = append(order, name)
			return c
		})
	}

	reg.Trigger(EventModeChanged, Context{})
	assert.Equal(t, []string{"a", "b", "c"}, order, "equal priorities keep registration order")
}

func TestTriggerThreadsContext(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register("first", EventToolWillExecute, 1, func(c Context) Context {
		c.Values["count"] = 1
		return c
	})
	reg.Register("second", EventToolWillExecute, 2, func(c Context) Context {
		c.Values["count"] = c.Values["count"].(int) + 1
		return c
	})

	out := reg.Trigger(EventToolWillExecute, Context{})
	assert.Equal(t, 2, out.Values["count"])
}

func TestTriggerPanicIsolated(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register("bomb", EventProjectActivated, 1, func(c Context) Context {
		panic("hook bug")
	})
	ran := false
	reg.Register("after", EventProjectActivated, 2, func(c Context) Context {
		ran = true
		c.Values["ok"] = true
		return c
	})

	out := reg.Trigger(EventProjectActivated, Context{})
	assert.True(t, ran, "a panicking hook must not abort the chain")
	assert.Equal(t, true, out.Values["ok"])
}

func TestDisabledHookSkipped(t *testing.T) {
	reg := NewRegistry(nil)

	ran := false
	reg.Register("h", EventToolRegistered, 0, func(c Context) Context {
		ran = true
		return c
	})
	require.True(t, reg.SetEnabled("h", EventToolRegistered, false))

	reg.Trigger(EventToolRegistered, Context{})
	assert.False(t, ran)

	require.True(t, reg.SetEnabled("h", EventToolRegistered, true))
	reg.Trigger(EventToolRegistered, Context{})
	assert.True(t, ran)
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("h", EventModeChanged, 0, func(c Context) Context { return c })

	require.True(t, reg.Unregister("h", EventModeChanged))
	assert.False(t, reg.Unregister("h", EventModeChanged))
	assert.Equal(t, 0, reg.Count(EventModeChanged))
}
