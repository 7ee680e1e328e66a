// Package qr renders the gateway's QR payload string as a PNG for the
// admin screen.
package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

// RenderPNG encodes a gateway QR payload (an EMVCo string) as a PNG image.
func RenderPNG(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("empty qr payload")
	}
	return qrcode.Encode(payload, qrcode.Medium, defaultSize)
}
