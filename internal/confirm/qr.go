package confirm

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultQRSize = 200

var qrForeground = color.RGBA{R: 0x00, G: 0x3B, B: 0x7A, A: 0xFF}

// QRCode encodes url as a PNG with high error correction.
func QRCode(url string, size int) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("qr: empty url")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	q, err := qrcode.New(url, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	q.ForegroundColor = qrForeground
	q.BackgroundColor = color.White
	png, err := q.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	return png, nil
}
