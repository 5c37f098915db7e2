package config_test

import (
	"strings"
	"testing"

	"github.com/kc9wx/linkcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadINIBasic(t *testing.T) {
	src := `
; comment
[SimplexLogic]
TYPE=Simplex
RX=Rx1   ; inline comment
TX=Tx1

[Macros]
7=EchoLink:9999
`
	s := config.New()
	require.NoError(t, s.LoadINI(strings.NewReader(src), "test"))

	v, ok := s.GetValue("SimplexLogic", "TYPE")
	require.True(t, ok)
	assert.Equal(t, "Simplex", v)

	v, ok = s.GetValue("SimplexLogic", "RX")
	require.True(t, ok)
	assert.Equal(t, "Rx1", v)

	v, ok = s.GetValue("Macros", "7")
	require.True(t, ok)
	assert.Equal(t, "EchoLink:9999", v)
}

// R1: setValue followed by getValue returns the same string.
func TestSetThenGetRoundTrip(t *testing.T) {
	s := config.New()
	s.SetValue("Logic", "TAG", "value-123")
	v, ok := s.GetValue("Logic", "TAG")
	require.True(t, ok)
	assert.Equal(t, "value-123", v)
}

func TestSubscriberNotified(t *testing.T) {
	s := config.New()
	var got []string
	s.Subscribe(func(section, tag, value string) {
		got = append(got, section+"/"+tag+"="+value)
	})
	s.SetValue("A", "B", "C")
	s.SetValue("A", "B", "D")
	assert.Equal(t, []string{"A/B=C", "A/B=D"}, got)
}

func TestGetValueBoolDefaults(t *testing.T) {
	s := config.New()
	s.SetValue("X", "Flag", "yes")
	assert.True(t, s.GetValueBool("X", "Flag", false))
	assert.False(t, s.GetValueBool("X", "Missing", false))
	s.SetValue("X", "Flag2", "0")
	assert.False(t, s.GetValueBool("X", "Flag2", true))
}

func TestLoadINIMissingSectionHeader(t *testing.T) {
	s := config.New()
	err := s.LoadINI(strings.NewReader("Tag=Value"), "test")
	assert.Error(t, err)
}
