package qr_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-lunch/internal/qr"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestRenderPNG(t *testing.T) {
	png, err := qr.RenderPNG("00020101021238570010A000000727012700069704220113VQRQACWVC4414")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestRenderPNGEmptyPayload(t *testing.T) {
	_, err := qr.RenderPNG("")
	assert.Error(t, err)
}
