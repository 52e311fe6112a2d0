package export

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// ShareURL is the public link of a stored raffle.
func ShareURL(baseURL, raffleID string) string {
	return fmt.Sprintf("%s/raffles/%s", strings.TrimSuffix(baseURL, "/"), url.PathEscape(raffleID))
}

// QRCode encodes the share link of a raffle as a PNG image.
func QRCode(baseURL, raffleID string) ([]byte, error) {
	return qrcode.Encode(ShareURL(baseURL, raffleID), qrcode.Medium, 256)
}
