package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimTimeJSON(t *testing.T) {
	t.Run("Encodes as fractional seconds", func(t *testing.T) {
		out, err := json.Marshal(FromSeconds(12.5))
		assert.NoError(t, err)
		assert.Equal(t, "12.5", string(out))
	})

	t.Run("Decodes fractional seconds", func(t *testing.T) {
		var st SimTime
		assert.NoError(t, json.Unmarshal([]byte("0.25"), &st))
		assert.Equal(t, FromSeconds(0.25), st)
	})

	t.Run("Rejects non-numeric input", func(t *testing.T) {
		var st SimTime
		assert.ErrorContains(t, json.Unmarshal([]byte(`"10s"`), &st), "number of seconds")
	})

	t.Run("Round trips inside a struct", func(t *testing.T) {
		in := Trip{ID: 1, Mode: ModeCar, Departure: FromSeconds(90.125)}
		raw, err := json.Marshal(in)
		assert.NoError(t, err)
		var out Trip
		assert.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, in, out)
	})
}

func TestFromSeconds(t *testing.T) {
	assert.Equal(t, 8.0, FromSeconds(8).Seconds())
	assert.Equal(t, SimTime(0), FromSeconds(0))
	assert.Equal(t, "1m30s", FromSeconds(90).String())
}
