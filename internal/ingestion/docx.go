package ingestion

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// parseDOCX opens the package and splits word/document.xml into sections.
func parseDOCX(_ context.Context, path string) ([]string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("docx: open: %w", err)
	}
	defer r.Close()

	return docxSections(r.Editable().GetContent())
}

// docxSections walks WordprocessingML and returns the text of each section.
// Paragraphs end with "\n"; a w:sectPr inside a paragraph's properties closes
// the current section once that paragraph ends. Only w:t runs contribute
// text, so field instructions and deleted revisions are skipped.
func docxSections(content string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))

	var (
		sections     []string
		cur          strings.Builder
		inText       bool
		paraDepth    int
		breakPending bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docx: parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				paraDepth++
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			case "sectPr":
				if paraDepth > 0 {
					breakPending = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paraDepth--
				cur.WriteByte('\n')
				if breakPending && paraDepth == 0 {
					sections = append(sections, cur.String())
					cur.Reset()
					breakPending = false
				}
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}

	if cur.Len() > 0 {
		sections = append(sections, cur.String())
	}
	return sections, nil
}
