package nnduration_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ghodss/yaml"
	"github.com/usnistgov/tsbridge/core/nnduration"
	"github.com/usnistgov/tsbridge/core/testenv"
)

func TestMilliseconds(t *testing.T) {
	assert, require := testenv.MakeAR(t)

	assert.Equal(250*time.Millisecond, nnduration.Milliseconds(0).DurationOr(250))
	assert.Equal(40*time.Millisecond, nnduration.Milliseconds(40).DurationOr(250))

	var d nnduration.Milliseconds
	require.NoError(json.Unmarshal([]byte(`40`), &d))
	assert.Equal(nnduration.Milliseconds(40), d)
	require.NoError(json.Unmarshal([]byte(`"2s"`), &d))
	assert.Equal(2*time.Second, d.Duration())
	assert.Error(json.Unmarshal([]byte(`"-2s"`), &d))
	assert.Error(json.Unmarshal([]byte(`"soon"`), &d))

	b, e := json.Marshal(nnduration.Milliseconds(40))
	require.NoError(e)
	assert.Equal("40", string(b))

	var cfg struct {
		Poll nnduration.Milliseconds `json:"poll"`
	}
	require.NoError(yaml.Unmarshal([]byte("poll: 5ms"), &cfg))
	assert.Equal(5*time.Millisecond, cfg.Poll.Duration())
}
