package corpus

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

// Info describes a document's PDF structure.
type Info struct {
	Pages int
}

// Inspect opens the document as a PDF and reports its page count. It reads
// the cross-reference structure only; no text is extracted. Malformed files
// yield an error, including those the pdf package panics on.
func Inspect(doc Document) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = Info{}, fmt.Errorf("parsing %s: %v", doc.Name, r)
		}
	}()

	f, err := os.Open(doc.Path)
	if err != nil {
		return Info{}, fmt.Errorf("opening %s: %w", doc.Name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", doc.Name, err)
	}
	if fi.Size() == 0 {
		return Info{}, fmt.Errorf("%s: empty file", doc.Name)
	}

	r, err := pdf.NewReader(f, fi.Size())
	if err != nil {
		return Info{}, fmt.Errorf("parsing %s: %w", doc.Name, err)
	}
	return Info{Pages: r.NumPage()}, nil
}
