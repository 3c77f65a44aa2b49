package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsSuffix(t *testing.T) {
	assert.Equal(t, "****wxyz", MaskSecret("abcdefwxyz"))
	assert.Equal(t, "****3456", MaskSecret("dGVzdA:APA91bHabcdef123456"))
	assert.Equal(t, "****", MaskSecret("abcdefgh"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskFieldsOnlyTouchesNamedStrings(t *testing.T) {
	in := map[string]any{"token": "device-token-9876", "platform": "ios", "attempts": 2}
	out := MaskFields(in, "token", "attempts")

	assert.Equal(t, "****9876", out["token"])
	assert.Equal(t, "ios", out["platform"])
	assert.Equal(t, 2, out["attempts"])
	assert.Equal(t, "device-token-9876", in["token"])
	assert.Nil(t, MaskFields(nil, "token"))
}
