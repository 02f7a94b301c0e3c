package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/schema"
)

const maxFormMemory = 32 << 20

var ErrInvalidBody = errors.New("invalid request body")

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// DecodeRequest fills dst from a JSON body or from form fields, depending on Content-Type.
// Fields are matched by their `json` and `schema` tags respectively. An empty body is not an error.
func DecodeRequest(r *http.Request, dst any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
		return nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
	}

	if err := formDecoder.Decode(dst, r.PostForm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}
