package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/dyncomp/internal/instance"
)

type gadget struct {
	parent      any
	initialized bool
}

func (g *gadget) Initialize() { g.initialized = true }
func (g *gadget) Parent() any { return g.parent }

func TestResolveTypeName(t *testing.T) {
	tests := []struct {
		name, base, want string
	}{
		{name: "Label", base: "host", want: "host.Label"},
		{name: "Label", base: "", want: "host.Label"},
		{name: "com.example.Chart", base: "host", want: "com.example.Chart"},
		{name: " Text Box! ", base: "ui", want: "ui.TextBox"},
		{name: "Outer$Inner", base: "host", want: "host.Outer$Inner"},
		{name: "@scope.Thing_2", base: "host", want: "@scope.Thing_2"},
		{name: "***", base: "host", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ResolveTypeName(tt.name, tt.base))
		})
	}
}

func TestTable_CreateWrapsAndPassesContainer(t *testing.T) {
	table := NewTable("")
	require.NoError(t, table.Register("Gadget", func(container any) (any, error) {
		return &gadget{parent: container}, nil
	}))

	inst, err := table.Create(context.Background(), "Gadget", "root")
	require.NoError(t, err)

	g, ok := instance.Unwrap(inst).(*gadget)
	require.True(t, ok)
	require.Equal(t, "root", g.parent)
	require.False(t, g.initialized)
}

func TestTable_CreateFullyQualified(t *testing.T) {
	table := NewTable("host")
	require.NoError(t, table.Register("com.example.Gadget", func(any) (any, error) { return &gadget{}, nil }))

	_, err := table.Create(context.Background(), "com.example.Gadget", nil)
	require.NoError(t, err)

	_, err = table.Create(context.Background(), "Gadget", nil)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestTable_Initializer(t *testing.T) {
	table := NewTable("host")
	require.NoError(t, table.Register("Sprite", func(any) (any, error) { return &gadget{}, nil }, WithInitializer("Initialize")))

	inst, err := table.Create(context.Background(), "Sprite", nil)
	require.NoError(t, err)
	require.True(t, instance.Unwrap(inst).(*gadget).initialized)
}

func TestTable_InitializerMissing(t *testing.T) {
	table := NewTable("host")
	require.NoError(t, table.Register("Sprite", func(any) (any, error) { return &gadget{}, nil }, WithInitializer("Prepare")))

	_, err := table.Create(context.Background(), "Sprite", nil)
	require.ErrorIs(t, err, ErrConstruction)
}

func TestTable_ConstructionFailures(t *testing.T) {
	boom := errors.New("no canvas")
	table := NewTable("host")
	require.NoError(t, table.Register("Failing", func(any) (any, error) { return nil, boom }))
	require.NoError(t, table.Register("Nil", func(any) (any, error) { return nil, nil }))
	require.NoError(t, table.Register("Panicking", func(any) (any, error) { panic("bad container") }))

	_, err := table.Create(context.Background(), "Failing", nil)
	require.ErrorIs(t, err, ErrConstruction)
	require.ErrorIs(t, err, boom)

	_, err = table.Create(context.Background(), "Nil", nil)
	require.ErrorIs(t, err, ErrConstruction)

	_, err = table.Create(context.Background(), "Panicking", nil)
	require.ErrorIs(t, err, ErrConstruction)
	require.ErrorContains(t, err, "bad container")
}

func TestTable_UnknownType(t *testing.T) {
	_, err := NewTable("host").Create(context.Background(), "Nope", nil)
	require.ErrorIs(t, err, ErrUnknownType)
	require.ErrorContains(t, err, "host.Nope")
}

func TestTable_Register(t *testing.T) {
	table := NewTable("host")
	ctor := func(any) (any, error) { return &gadget{}, nil }

	require.NoError(t, table.Register("B", ctor))
	require.NoError(t, table.Register("host.A", ctor))
	require.Error(t, table.Register("A", ctor))
	require.Error(t, table.Register("", ctor))
	require.Error(t, table.Register("C", nil))

	require.Equal(t, []string{"host.A", "host.B"}, table.Types())
	require.True(t, table.Knows("A"))
	require.False(t, table.Knows("C"))
	require.Equal(t, "host", table.BaseNamespace())
}
