// Package pairing renders a connection URL as a terminal QR code, so a
// second client (e.g. a phone) can join a collaboration session
// without retyping the server URL and default type.
package pairing

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// URL builds the pairing URL a client scans to join, embedding the
// server's websocket endpoint and default OT type as query parameters.
func URL(serverURL, defaultType string) string {
	v := url.Values{}
	v.Set("type", defaultType)
	return serverURL + "?" + v.Encode()
}

// TerminalQR renders a pairing URL as a small terminal-friendly QR
// code string, suitable for printing directly to stdout.
func TerminalQR(pairingURL string) (string, error) {
	q, err := qrcode.New(pairingURL, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generate QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// PNG renders a pairing URL as a PNG-encoded QR code of the given
// pixel size, suitable for serving from the status page.
func PNG(pairingURL string, size int) ([]byte, error) {
	return qrcode.Encode(pairingURL, qrcode.Medium, size)
}
