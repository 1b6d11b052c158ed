package logging

import (
	"testing"

	"github.com/jfrog/jfrog-client-go/utils/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.LevelType{
		"debug":   log.DEBUG,
		"INFO":    log.INFO,
		"":        log.INFO,
		"warning": log.WARN,
		" error ": log.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetup(t *testing.T) {
	original := log.GetLogger().GetLogLevel()
	defer log.SetLogger(log.NewLogger(original, nil))

	require.NoError(t, Setup("debug", nil))
	assert.Equal(t, log.DEBUG, log.GetLogger().GetLogLevel())

	assert.Error(t, Setup("loud", nil))
}
