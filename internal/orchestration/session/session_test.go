package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/dyncomp/internal/dispatch"
	"github.com/zjrosen/dyncomp/internal/host"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/orchestration/handler"
	"github.com/zjrosen/dyncomp/internal/pubsub"
	"github.com/zjrosen/dyncomp/internal/registry"
	"github.com/zjrosen/dyncomp/internal/schema"
	"github.com/zjrosen/dyncomp/internal/testutil"
)

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	table, err := host.NewTable("")
	require.NoError(t, err)
	s, err := New(table, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// collect reads events until a SchemaCompleted or BuildFailed arrives.
func collect(t *testing.T, ch <-chan pubsub.Event[any]) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			e, ok := ev.Payload.(events.Event)
			if !ok {
				continue
			}
			out = append(out, e)
			if e.Kind() == events.KindSchemaCompleted || e.Kind() == events.KindBuildFailed {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNoFactory)

	table, err := host.NewTable("")
	require.NoError(t, err)
	_, err = New(table, WithMode("eventually"))
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Deferred ")
	require.NoError(t, err)
	require.Equal(t, ModeDeferred, m)

	_, err = ParseMode("later")
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestSession_BuildSchemaImmediate(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	screen := host.NewScreen("main")
	sub := s.Events(ctx)

	err := s.BuildSchema(ctx, screen, testutil.BoxSchema(t).JSON(), []string{"Box", "1"})
	require.NoError(t, err)

	got := collect(t, sub)
	require.Len(t, got, 3)
	first := got[0].(events.CreationCompleted)
	second := got[1].(events.CreationCompleted)
	require.Equal(t, "box1", first.ID)
	require.Equal(t, "lbl1", second.ID)
	done := got[2].(events.SchemaCompleted)
	require.Equal(t, "Box", done.Name)
	require.Equal(t, []string{"Box", "1"}, done.Parameters)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"box1", "lbl1"}, ids)

	text, err := s.Get(ctx, "lbl1", "Text")
	require.NoError(t, err)
	require.Equal(t, "Hi", text)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSession_SchemaCompletedUsesDeclaredName(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	sub := s.Events(ctx)

	doc := testutil.NewSchema(t, "Declared").
		WithKeys("n").
		WithComponent("item{n}", "Label").
		JSON()
	require.NoError(t, s.BuildSchema(ctx, host.NewScreen("main"), doc, []string{"CallerLabel", "1"}))

	got := collect(t, sub)
	done, ok := got[len(got)-1].(events.SchemaCompleted)
	require.True(t, ok)
	require.Equal(t, "Declared", done.Name)
	require.Equal(t, []string{"CallerLabel", "1"}, done.Parameters)
	mustLookup(t, s, "item1")
}

func TestSession_LargeBuildStillReportsCompletion(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	sub := s.Events(ctx)

	const records = eventBuffer + 76
	b := testutil.NewSchema(t, "Wide")
	for i := range records {
		b.WithComponent(fmt.Sprintf("lbl%d", i), "Label")
	}
	require.NoError(t, s.BuildSchema(ctx, host.NewScreen("main"), b.JSON(), []string{"Wide"}))

	// Nothing read during the build: creation events past the buffer are
	// dropped but the completion still arrives.
	got := collect(t, sub)
	require.Len(t, got, eventBuffer+1)
	done, ok := got[len(got)-1].(events.SchemaCompleted)
	require.True(t, ok)
	require.Equal(t, records, done.Created)
	require.Equal(t, int64(records-eventBuffer), s.Broker().Dropped())
}

func TestSession_DeferredFailureSurvivesFullSubscriber(t *testing.T) {
	s := newSession(t, WithMode(ModeDeferred))
	ctx := context.Background()
	sub := s.Events(ctx)

	b := testutil.NewSchema(t, "Wide")
	for i := range eventBuffer {
		b.WithComponent(fmt.Sprintf("lbl%d", i), "Label")
	}
	b.WithComponent("bad", "Gizmo")
	require.NoError(t, s.BuildSchema(ctx, host.NewScreen("main"), b.JSON(), []string{"Wide"}))
	_, err := s.IDs(ctx)
	require.NoError(t, err)

	got := collect(t, sub)
	failed, ok := got[len(got)-1].(events.BuildFailed)
	require.True(t, ok)
	require.Equal(t, eventBuffer, failed.Index)
	require.Equal(t, "bad", failed.ID)
}

func TestSession_ImmediateReturnsCreationError(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	screen := host.NewScreen("main")

	require.NoError(t, s.Create(ctx, screen, "Label", "dup"))
	err := s.Create(ctx, screen, "Label", "dup")
	require.ErrorIs(t, err, handler.ErrCreationFailed)
	require.ErrorIs(t, err, registry.ErrDuplicateIdentifier)

	last, err := s.LastUsedID(ctx)
	require.NoError(t, err)
	require.Equal(t, "dup", last)
}

func TestSession_DeferredReportsFailureAsEvent(t *testing.T) {
	s := newSession(t, WithMode(ModeDeferred))
	ctx := context.Background()
	sub := s.Events(ctx)

	plan := []schema.CreationRecord{
		{ID: "ok", Type: "Label"},
		{ID: "bad", Type: "Unknown"},
	}
	require.NoError(t, s.Build(ctx, host.NewScreen("main"), plan, "partial", nil))

	got := collect(t, sub)
	require.Len(t, got, 2)
	require.Equal(t, events.KindCreationCompleted, got[0].Kind())
	failed := got[1].(events.BuildFailed)
	require.Equal(t, "partial", failed.Name)
	require.Equal(t, 1, failed.Index)
	require.Equal(t, "bad", failed.ID)
	require.ErrorIs(t, failed.Err, handler.ErrCreationFailed)

	ok, err := s.IsDynamic(ctx, mustLookup(t, s, "ok"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSession_DeferredSchemaErrorsAreSynchronous(t *testing.T) {
	s := newSession(t, WithMode(ModeDeferred))
	err := s.BuildSchema(context.Background(), host.NewScreen("main"),
		testutil.BoxSchema(t).WithVersion(2).JSON(), []string{"Box", "1"})
	require.ErrorIs(t, err, schema.ErrUnsupportedSchemaVersion)

	err = s.BuildSchema(context.Background(), host.NewScreen("main"), testutil.BoxSchema(t).JSON(), []string{"Box"})
	require.ErrorIs(t, err, schema.ErrParameterCountMismatch)
}

func TestSession_SetModeAtRuntime(t *testing.T) {
	s := newSession(t)
	require.Equal(t, ModeImmediate, s.Mode())
	require.NoError(t, s.SetMode(ModeDeferred))
	require.Equal(t, ModeDeferred, s.Mode())
	require.ErrorIs(t, s.SetMode("sometimes"), ErrInvalidMode)
	require.Equal(t, ModeDeferred, s.Mode())
}

func mustLookup(t *testing.T, s *Session, id string) instance.Instance {
	t.Helper()
	inst, ok, err := s.Lookup(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "%s not registered", id)
	return inst
}

func TestSession_RegistryOperations(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	screen := host.NewScreen("main")
	require.NoError(t, s.BuildSchema(ctx, screen, testutil.FormSchema(t).YAML(), []string{"Form", "pay", "Send"}))

	input := mustLookup(t, s, "pay_input")
	id, err := s.IDOf(ctx, instance.Unwrap(input))
	require.NoError(t, err)
	require.Equal(t, "pay_input", id)

	dynamic, err := s.IsDynamic(ctx, screen)
	require.NoError(t, err)
	require.False(t, dynamic)

	require.NoError(t, s.Rename(ctx, "pay_prompt", "prompt"))
	require.ErrorIs(t, s.Rename(ctx, "pay_prompt", "x"), registry.ErrInvalidIdentifier)

	// The fragment itself must be a registered identifier.
	_, err = s.RenameMatching(ctx, "pay", "card")
	require.ErrorIs(t, err, registry.ErrInvalidIdentifier)
	require.NoError(t, s.Create(ctx, "pay_form", "Label", "pay"))

	renamed, err := s.RenameMatching(ctx, "pay", "card")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"card", "card_form", "card_input", "card_submit"}, renamed)

	removed, err := s.Remove(ctx, "prompt")
	require.NoError(t, err)
	require.True(t, removed)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"card", "card_form", "card_input", "card_submit"}, ids)

	generated, err := s.GenerateID(ctx)
	require.NoError(t, err)
	require.NotContains(t, ids, generated)
}

func TestSession_InvokeGetSet(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, host.NewScreen("main"), "TextBox", "amount"))

	require.NoError(t, s.Set(ctx, "amount", "NumbersOnly", "true"))
	err := s.Set(ctx, "amount", "Text", "abc")
	require.ErrorIs(t, err, dispatch.ErrInvocationFailed)

	require.NoError(t, s.SetAll(ctx, "amount", schema.Properties{
		{Key: "Text", Value: 42},
		{Key: "Hint", Value: "type a number"},
	}))
	text, err := s.Get(ctx, "amount", "text")
	require.NoError(t, err)
	require.Equal(t, "42", text)

	out, err := s.Invoke(ctx, "amount", "Clear")
	require.NoError(t, err)
	require.Equal(t, dispatch.Empty, out)

	_, err = s.Invoke(ctx, "amount", "Explode")
	require.ErrorIs(t, err, dispatch.ErrMemberNotFound)
}

func TestSession_AwaitResolvesOnCreation(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		got instance.Instance
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err = s.Await(ctx, "late")
	}()

	// Await registers its waiter through the executor; poll until it has.
	require.Eventually(t, func() bool {
		return s.Stats().Processed >= 1
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Create(ctx, host.NewScreen("main"), "Clock", "late"))

	wg.Wait()
	require.NoError(t, err)
	require.IsType(t, &host.Clock{}, instance.Unwrap(got))
}

func TestSession_AwaitTimesOut(t *testing.T) {
	s := newSession(t, WithAwaitTimeout(20*time.Millisecond))

	_, err := s.Await(context.Background(), "never")
	require.ErrorIs(t, err, ErrAwaitTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Await(ctx, "never")
	require.True(t, errors.Is(err, context.Canceled))
}

func TestSession_ConcurrentCreatesAreSerialized(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	screen := host.NewScreen("main")

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Create(ctx, screen, "Label", "shared")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, registry.ErrDuplicateIdentifier):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)
	require.Len(t, screen.Children(), 1)
}

func TestSession_CloseDrainsDeferredWork(t *testing.T) {
	table, err := host.NewTable("")
	require.NoError(t, err)
	s, err := New(table, WithMode(ModeDeferred))
	require.NoError(t, err)

	screen := host.NewScreen("main")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(context.Background(), screen, "Button", id))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Len(t, screen.Children(), 3)

	require.ErrorIs(t, s.Create(context.Background(), screen, "Button", "d"), ErrClosed)
	_, err = s.IDs(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
