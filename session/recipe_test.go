package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipeOver(t *testing.T) {
	base := NewRecipe(
		Setting{Kind: SettingMode, Target: "SLICE0", Value: "LOGIC"},
		Setting{Kind: SettingAttr, Target: "SLICE0", Name: "FFX", Value: "#FF"},
		Setting{Kind: SettingAttr, Target: "SLICE0", Name: "INITX", Value: "LOW"},
	)
	job := NewRecipe(
		Setting{Kind: SettingAttr, Target: "SLICE0", Name: "INITX", Value: "HIGH"},
		Setting{Kind: SettingPin, Target: "SLICE0", Name: "CLK"},
	)

	got := job.Over(base)
	require.Len(t, got.Settings, 4)
	assert.Equal(t, "mode:SLICE0=LOGIC", got.Settings[0].String())
	assert.Equal(t, "attr:SLICE0.INITX=HIGH", got.Settings[2].String())
	assert.Equal(t, "pin:SLICE0.CLK", got.Settings[3].String())
	require.NoError(t, got.Validate())

	// Inputs are left alone
	assert.Equal(t, "LOW", base.Settings[2].Value)
	assert.Len(t, job.Settings, 2)
}

func TestRecipeValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  Recipe
		wantErr string
	}{
		{"empty", Recipe{}, ""},
		{"unknown kind", NewRecipe(Setting{Kind: "net", Target: "X", Name: "Y"}), "unknown setting kind"},
		{"no target", NewRecipe(Setting{Kind: SettingAttr, Name: "Y"}), "no target"},
		{"mode without value", NewRecipe(Setting{Kind: SettingMode, Target: "SLICE0"}), "names no mode"},
		{"attr without name", NewRecipe(Setting{Kind: SettingAttr, Target: "SLICE0", Value: "1"}), "has no name"},
		{"duplicate", NewRecipe(
			Setting{Kind: SettingPip, Target: "INT", Name: "E2->W2"},
			Setting{Kind: SettingPip, Target: "INT", Name: "E2->W2"},
		), "both set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecipeSorted(t *testing.T) {
	r := NewRecipe(
		Setting{Kind: SettingPip, Target: "INT", Name: "b"},
		Setting{Kind: SettingAttr, Target: "SLICE1", Name: "a", Value: "1"},
		Setting{Kind: SettingAttr, Target: "SLICE0", Name: "z", Value: "1"},
	)
	got := r.Sorted()
	assert.Equal(t, "{attr:SLICE0.z=1 attr:SLICE1.a=1 pip:INT.b}", got.String())
	assert.Equal(t, SettingPip, r.Settings[0].Kind)
}

func TestIsValidSettingKind(t *testing.T) {
	for _, k := range []string{"mode", "attr", "pin", "pip"} {
		assert.True(t, IsValidSettingKind(k), k)
	}
	assert.False(t, IsValidSettingKind("MODE"))
	assert.False(t, IsValidSettingKind(""))
}
