package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
	"unicode/utf16"
)

// buildPDF assembles a minimal single-font PDF with one text line per page,
// computing xref offsets so the reader accepts it.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	var kids bytes.Buffer
	for i := range pages {
		fmt.Fprintf(&kids, "%d 0 R ", 4+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// buildDOCX zips a minimal WordprocessingML package around body.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body + `</w:body></w:document>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// testPiece describes one run of text for buildWordStreams.
type testPiece struct {
	text       string
	compressed bool
}

// buildWordStreams lays out a WordDocument stream with a FIB followed by the
// piece text, and a 1Table stream holding the matching CLX.
func buildWordStreams(t *testing.T, pieces ...testPiece) map[string][]byte {
	t.Helper()

	wd := make([]byte, 0x400)
	binary.LittleEndian.PutUint16(wd[0:], fibMagic)
	binary.LittleEndian.PutUint16(wd[fibFlagsOffset:], fibFlagWhichTable)

	cps := []uint32{0}
	var pcds []byte
	total := 0
	for _, p := range pieces {
		fc := len(wd)
		var raw []byte
		n := 0
		if p.compressed {
			raw = []byte(p.text) // ASCII only in tests
			n = len(raw)
		} else {
			units := utf16.Encode([]rune(p.text))
			raw = make([]byte, 2*len(units))
			for i, u := range units {
				binary.LittleEndian.PutUint16(raw[2*i:], u)
			}
			n = len(units)
		}
		wd = append(wd, raw...)

		fcField := uint32(fc)
		if p.compressed {
			fcField = uint32(fc*2) | fcCompressedFlag
		}
		pcd := make([]byte, pcdSize)
		binary.LittleEndian.PutUint32(pcd[2:], fcField)
		pcds = append(pcds, pcd...)

		total += n
		cps = append(cps, uint32(total))
	}
	binary.LittleEndian.PutUint32(wd[fibCcpTextOffset:], uint32(total))

	var plc []byte
	for _, cp := range cps {
		plc = binary.LittleEndian.AppendUint32(plc, cp)
	}
	plc = append(plc, pcds...)

	// A leading Prc must be skipped by the parser.
	clx := []byte{clxPrc, 0x02, 0x00, 0xAA, 0xBB, clxPcdt}
	clx = binary.LittleEndian.AppendUint32(clx, uint32(len(plc)))
	clx = append(clx, plc...)

	table := append(make([]byte, 16), clx...)
	binary.LittleEndian.PutUint32(wd[fibFcClxOffset:], 16)
	binary.LittleEndian.PutUint32(wd[fibLcbClxOffset:], uint32(len(clx)))

	return map[string][]byte{"WordDocument": wd, "1Table": table}
}
