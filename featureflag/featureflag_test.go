package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{"feature1", " cancel_hidden_planting ", ""})

	t.Run("run if enabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.True(t, runFeature1)

		var runFeature2 bool
		f.IfSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.False(t, runFeature2)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfNotSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.False(t, runFeature1)

		var runFeature2 bool
		f.IfNotSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.True(t, runFeature2)
	})

	t.Run("is set", func(t *testing.T) {
		require.True(t, f.IsSet(FlagCancelHiddenPlanting))
		require.False(t, f.IsSet(FlagRetryEmptyPatches))
		require.Len(t, f.List(), 2)
	})

	t.Run("nil flags", func(t *testing.T) {
		var nilFlags FeatureFlag
		require.False(t, nilFlags.IsSet(FlagDisableNodeResort))
		require.Empty(t, nilFlags.List())
	})
}
