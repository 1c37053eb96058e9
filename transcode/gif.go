package transcode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var gifMagic = []byte("GIF8")

// ToGIF 把 base64 图片转为 GIF，本来就是 GIF 时原样返回
func ToGIF(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return b64, fmt.Errorf("decode base64: %w", err)
	}
	if bytes.HasPrefix(raw, gifMagic) {
		return b64, nil
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return b64, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
		return b64, fmt.Errorf("encode %s as gif: %w", format, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
