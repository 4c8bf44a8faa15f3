package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordBindingsNameRealFlags(t *testing.T) {
	for key, flag := range recordBindings {
		assert.NotNil(t, recordCmd.Flags().Lookup(flag), "flag --%s bound to %s", flag, key)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"record", "serve", "list", "config"} {
		assert.True(t, names[want], want)
	}
}
