package cmdparser_test

import (
	"testing"

	"github.com/kc9wx/linkcore/internal/cmdparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongestPrefixWins(t *testing.T) {
	p := cmdparser.New()
	var gotKey, gotSub string
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "1", Handler: func(sub string) { gotKey, gotSub = "1", sub }}))
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "12", Handler: func(sub string) { gotKey, gotSub = "12", sub }}))

	ok := p.ProcessCmd("123")
	require.True(t, ok)
	assert.Equal(t, "12", gotKey)
	assert.Equal(t, "3", gotSub)
}

func TestExactMatchOnlyConsideredAtFullLength(t *testing.T) {
	p := cmdparser.New()
	var fired string
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "99", ExactMatch: true, Handler: func(string) { fired = "99exact" }}))
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "9", Handler: func(sub string) { fired = "9:" + sub }}))

	assert.True(t, p.ProcessCmd("99"))
	assert.Equal(t, "99exact", fired)

	fired = ""
	assert.True(t, p.ProcessCmd("991"))
	assert.Equal(t, "9:91", fired)
}

func TestNoMatchReturnsFalse(t *testing.T) {
	p := cmdparser.New()
	assert.False(t, p.ProcessCmd("5"))
}

func TestAddCmdRejectsDuplicateKeys(t *testing.T) {
	p := cmdparser.New()
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "1", Handler: func(string) {}}))
	err := p.AddCmd(&cmdparser.Command{Key: "1", Handler: func(string) {}})
	assert.Error(t, err)
}

func TestRemoveCmdActuallyRemoves(t *testing.T) {
	p := cmdparser.New()
	require.NoError(t, p.AddCmd(&cmdparser.Command{Key: "1", Handler: func(string) {}}))
	p.RemoveCmd("1")
	_, ok := p.Get("1")
	assert.False(t, ok)
	assert.False(t, p.ProcessCmd("1"))
}

func TestMacroSplit(t *testing.T) {
	tbl := cmdparser.NewMacroTable()
	tbl.Add(7, "EchoLink:9999")
	m, ok := tbl.Get(7)
	require.True(t, ok)
	mod, cmd := m.Split()
	assert.Equal(t, "EchoLink", mod)
	assert.Equal(t, "9999", cmd)

	tbl.Add(8, "1234")
	m8, _ := tbl.Get(8)
	mod8, cmd8 := m8.Split()
	assert.Equal(t, "", mod8)
	assert.Equal(t, "1234", cmd8)
}
