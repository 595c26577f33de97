package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderParamsMacProfile(t *testing.T) {
	params := providerParams("", true, true)

	assert.Equal(t, "nova-2", params.Get("model"))
	assert.Equal(t, "linear16", params.Get("encoding"))
	assert.Equal(t, "48000", params.Get("sample_rate"))
	assert.Equal(t, "2", params.Get("channels"))
	assert.Equal(t, "true", params.Get("diarize"))
	assert.Equal(t, "multi", params.Get("language"))
}

func TestProviderParamsDefaultProfile(t *testing.T) {
	params := providerParams("en-US", false, false)

	assert.Equal(t, "nova-3", params.Get("model"))
	assert.Empty(t, params.Get("encoding"))
	assert.Equal(t, "false", params.Get("diarize"))
	assert.Equal(t, "en-US", params.Get("language"))
}
