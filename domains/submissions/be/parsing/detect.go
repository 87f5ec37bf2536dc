package parsing

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"
)

// Kind groups receipt content by how text is obtained from it.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindImage
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return "unsupported"
	}
}

var (
	imageTypes = []string{"image/png", "image/jpeg", "image/tiff", "image/webp", "image/bmp"}
	textTypes  = []string{"text/plain", "text/html", "text/csv", "application/json", "text/xml", "application/xml"}
)

// Detect sniffs data and classifies it. A PDF without its end-of-file marker counts as corrupt.
func Detect(data []byte) (Kind, string) {
	if len(data) == 0 {
		return KindUnsupported, ""
	}
	mime := mimetype.Detect(data)
	contentType := mime.String()

	switch {
	case mime.Is("application/pdf"):
		if !bytes.Contains(tail(data, 2048), []byte("%%EOF")) {
			return KindUnsupported, contentType
		}
		return KindPDF, contentType
	case isAny(mime, imageTypes):
		return KindImage, contentType
	case isAny(mime, textTypes):
		return KindText, contentType
	default:
		return KindUnsupported, contentType
	}
}

func isAny(mime *mimetype.MIME, types []string) bool {
	for m := mime; m != nil; m = m.Parent() {
		for _, t := range types {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

func tail(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}
