package core_test

import (
	"testing"

	"github.com/nbscript/nb/core"
	"github.com/stretchr/testify/require"
)

func TestRuleRegistryDeclareAndLookup(t *testing.T) {
	reg := core.NewRuleRegistry("pathset", "build")

	handle, err := reg.Declare("gcc", "gcc -c $in -o $out", "compile C", core.RuleOptions{
		DefaultVars: map[string]string{"depfile": ""},
	})
	require.NoError(t, err)
	require.Equal(t, "gcc", handle.Name())

	rule, ok := reg.Lookup("gcc")
	require.True(t, ok)
	require.True(t, rule.HasDepfile)
	require.False(t, rule.Used())
}

func TestRuleRegistryRejectsReservedName(t *testing.T) {
	reg := core.NewRuleRegistry("build", "pathset")
	_, err := reg.Declare("build", "echo", "", core.RuleOptions{})
	require.Error(t, err)
}

func TestRuleRegistryRejectsDuplicateName(t *testing.T) {
	reg := core.NewRuleRegistry()
	_, err := reg.Declare("gcc", "gcc -c $in -o $out", "", core.RuleOptions{})
	require.NoError(t, err)
	_, err = reg.Declare("gcc", "gcc -c $in -o $out", "", core.RuleOptions{})
	require.Error(t, err)
}

func TestRuleRegistryRejectsDeclareAfterEmission(t *testing.T) {
	reg := core.NewRuleRegistry()
	reg.MarkEmitted()
	_, err := reg.Declare("gcc", "gcc -c $in -o $out", "", core.RuleOptions{})
	require.Error(t, err)
}

func TestRuleRegistryAllPreservesOrder(t *testing.T) {
	reg := core.NewRuleRegistry()
	_, err := reg.Declare("a", "echo a", "", core.RuleOptions{})
	require.NoError(t, err)
	_, err = reg.Declare("b", "echo b", "", core.RuleOptions{})
	require.NoError(t, err)

	names := []string{}
	for _, r := range reg.All() {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"a", "b"}, names)
}
