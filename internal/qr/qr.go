// Package qr renders text as a scannable PNG data URI.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 256

// DataURI encodes data as a QR code and returns it as a PNG data URI
// suitable for direct use in an <img> tag.
func DataURI(data string) (string, error) {
	png, err := qrcode.Encode(data, qrcode.Medium, imageSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
