package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"election_ledger/pkg/election"
	"election_ledger/pkg/identity"
)

func TestPrintTally(t *testing.T) {
	admin := identity.Principal("chair")
	c, err := election.NewController(admin, nil, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	_, err = c.AddCandidate(admin, "Alice")
	require.NoError(t, err)
	_, err = c.AddCandidate(admin, "Bob")
	require.NoError(t, err)
	require.NoError(t, c.StartElection(admin))
	require.NoError(t, c.Vote("v1", 2))

	var out bytes.Buffer
	require.NoError(t, printTally(&out, c, 500))

	text := out.String()
	assert.Contains(t, text, "Active")
	assert.Contains(t, text, "Alice")
	assert.Regexp(t, `2\s+Bob\s+1`, text)
	assert.Regexp(t, `Total\s+1`, text)
	assert.Contains(t, text, "500")
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "tally", "verify"}, names)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "config.yaml", flag.DefValue)
}
