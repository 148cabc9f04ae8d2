package slip

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"os"

	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/phillip-england/payslip/internal/payroll"
)

const qrSize = 256

// QRPayload is the text encoded in the verification code printed on each slip.
func QRPayload(nup string, period payroll.Period, signerName, signerTitle string) string {
	return fmt.Sprintf("Slip Gaji : %s|%s|\nSigned by : %s|%s", nup, period.Label(), signerName, signerTitle)
}

func QRCodeDataURI(content string) (template.URL, error) {
	raw, err := qrcode.Encode(content, qrcode.Highest, qrSize)
	if err != nil {
		return "", err
	}
	return pngDataURI(raw), nil
}

// LoadImage reads a png, jpeg or webp file and returns it as a png data URI no
// wider than maxWidth. A missing file yields an empty URI and no error.
func LoadImage(path string, maxWidth int) (template.URL, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	img, err := decodeImage(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	img = fitWidth(img, maxWidth)

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return "", errors.New("unable to encode image")
	}
	return pngDataURI(out.Bytes()), nil
}

func decodeImage(raw []byte) (image.Image, error) {
	switch http.DetectContentType(raw) {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, errors.New("image must be png, jpeg, or webp")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err == nil {
		return img, nil
	}
	if decoded, decodeErr := webp.Decode(bytes.NewReader(raw)); decodeErr == nil {
		return decoded, nil
	}
	return nil, errors.New("unable to decode image")
}

func fitWidth(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxWidth <= 0 || width <= maxWidth || width == 0 {
		return img
	}
	targetHeight := height * maxWidth / width
	if targetHeight < 1 {
		targetHeight = 1
	}
	resized := image.NewRGBA(image.Rect(0, 0, maxWidth, targetHeight))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, xdraw.Over, nil)
	return resized
}

func pngDataURI(raw []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(raw))
}
