package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeModelJSON(t *testing.T) {
	raw := "```json\n{\n  // one hand\n  \"hands\": [{\"confidence\": 0.9,},],\n  /* done */\n}\n```"
	clean := SanitizeModelJSON(raw)
	assert.NotContains(t, clean, "//")
	assert.NotContains(t, clean, "/*")
	assert.NotContains(t, clean, "```")
	assert.True(t, json.Valid([]byte(clean)), clean)
}

func TestParseHandDetection(t *testing.T) {
	raw := `Sure! {"hands":[{"confidence":0.82,"box":{"x":0.1,"y":0.2,"w":0.5,"h":0.6},"fingertips":[{"x":0.3,"y":0.25}]}]} hope this helps`
	res, err := ParseHandDetection(raw)
	require.NoError(t, err)
	require.Len(t, res.Hands, 1)
	assert.Equal(t, 0.82, res.Hands[0].Confidence)
	assert.Equal(t, 0.6, res.Hands[0].Box.H)
	assert.Len(t, res.Hands[0].Fingertips, 1)
}

func TestParseHandDetectionWithoutJSON(t *testing.T) {
	_, err := ParseHandDetection("I cannot see any hands.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseHandDetection(`{"hands": [oops]}`)
	assert.Error(t, err)
}
