package server

import (
	"encoding/base64"
	"errors"
	"strings"
)

// decodeImageData accepts either a data URL or bare base64.
func decodeImageData(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.New("no image data")
	}
	parts := strings.SplitN(data, ",", 2)
	if len(parts) == 2 {
		if !strings.HasPrefix(parts[0], "data:image/") {
			return nil, errors.New("data url is not an image")
		}
		data = parts[1]
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}
