// Package filetype sniffs uploads by magic bytes so the API rejects
// mislabeled files before any engine touches them.
package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind classifies an upload for the toolbox.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindOther Kind = "other"
)

// Info is the sniffing result.
type Info struct {
	MIMEType  string
	Extension string
	Kind      Kind
}

// DetectBytes classifies in-memory content by magic bytes, never by
// the client supplied filename.
func DetectBytes(data []byte) Info {
	mtype := mimetype.Detect(data)
	return classify(mtype)
}

// DetectFile classifies a file on disk by magic bytes.
func DetectFile(path string) (Info, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("detect file type: %w", err)
	}
	return classify(mtype), nil
}

func classify(mtype *mimetype.MIME) Info {
	info := Info{MIMEType: mtype.String(), Extension: mtype.Extension(), Kind: KindOther}
	switch {
	case mtype.Is("application/pdf"):
		info.Kind = KindPDF
	case mtype.Is("image/png"), mtype.Is("image/jpeg"), mtype.Is("image/tiff"), mtype.Is("image/bmp"):
		info.Kind = KindImage
	}
	log.Debug().Str("mime", info.MIMEType).Str("kind", string(info.Kind)).Msg("detected file type")
	return info
}

// IsPDF reports whether content is a PDF by magic bytes.
func IsPDF(data []byte) bool { return DetectBytes(data).Kind == KindPDF }
