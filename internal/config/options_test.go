package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMacroStore_LookupByID(t *testing.T) {
	store := NewMacroStore([]Macro{
		{ID: "m1", Name: "probe", Content: "G38.2 Z-10"},
		{ID: "m2", Name: "home-z", Content: "$H"},
	})

	m, ok := store.Lookup("m1")
	require.True(t, ok)
	require.Equal(t, "probe", m.Name)

	_, ok = store.Lookup("missing")
	require.False(t, ok)
}

func TestMacroStore_EmptyStore(t *testing.T) {
	store := NewMacroStore(nil)

	_, ok := store.Lookup("anything")
	require.False(t, ok)
}
