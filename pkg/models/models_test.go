package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultState(t *testing.T) {
	t.Cleanup(func() { SetDefaultState("") })

	t.Run("FallbackWhenUnconfigured", func(t *testing.T) {
		SetDefaultState("")
		assert.Equal(t, FallbackDefaultState, DefaultState())
	})

	t.Run("ConfiguredValueWins", func(t *testing.T) {
		SetDefaultState("state:NEW")
		assert.Equal(t, "state:NEW", DefaultState())
	})

	t.Run("EnvWinsOverConfigured", func(t *testing.T) {
		SetDefaultState("state:NEW")
		t.Setenv(EnvDefaultState, "state:DRAFT")
		assert.Equal(t, "state:DRAFT", DefaultState())
	})
}
