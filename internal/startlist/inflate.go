package startlist

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"racesync/internal/model"
)

// MaxUploadSize bounds an inflated upload.
const MaxUploadSize = 64 << 20

// Inflate unpacks a zlib stream as sent by the timing software for
// compressed uploads.
func Inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &model.ParseError{What: "compressed upload", Err: err}
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxUploadSize+1))
	if err != nil {
		return nil, &model.ParseError{What: "compressed upload", Err: err}
	}
	if len(out) > MaxUploadSize {
		return nil, &model.ParseError{What: "compressed upload", Err: fmt.Errorf("inflated size exceeds %d bytes", MaxUploadSize)}
	}
	return out, nil
}
