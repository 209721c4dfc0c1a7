package ingestion

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
)

// Word 97-2003 File Information Block offsets ([MS-DOC] 2.5).
const (
	fibMagic          = 0xA5EC
	fibFlagsOffset    = 0x000A
	fibCcpTextOffset  = 0x004C
	fibFcClxOffset    = 0x01A2
	fibLcbClxOffset   = 0x01A6
	fibMinLength      = fibLcbClxOffset + 4
	fibFlagEncrypted  = 0x0100
	fibFlagWhichTable = 0x0200

	clxPrc  = 0x01
	clxPcdt = 0x02

	pcdSize          = 8
	fcCompressedFlag = 0x40000000
	fcMask           = 0x3FFFFFFF
)

// docStreams are the compound-file streams needed to recover the text.
var docStreams = map[string]bool{"WordDocument": true, "0Table": true, "1Table": true}

// parseDOC reads a legacy .doc compound file and returns its main-document
// text split into sections at page/section breaks.
func parseDOC(_ context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("doc: open: %w", err)
	}
	defer f.Close()

	cfb, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("doc: not a compound file: %w", err)
	}

	streams := make(map[string][]byte, len(docStreams))
	for {
		entry, err := cfb.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("doc: read directory: %w", err)
		}
		if !docStreams[entry.Name] {
			continue
		}
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return nil, fmt.Errorf("doc: read %s stream: %w", entry.Name, err)
		}
		streams[entry.Name] = buf
	}

	text, err := wordText(streams)
	if err != nil {
		return nil, err
	}
	return strings.Split(text, "\f"), nil
}

// piece is one entry of the document's piece table.
type piece struct {
	cpStart, cpEnd int
	fc             int
	compressed     bool
}

// wordText locates the piece table through the FIB and concatenates the
// main-document text it describes.
func wordText(streams map[string][]byte) (string, error) {
	wd := streams["WordDocument"]
	if len(wd) < fibMinLength {
		return "", errors.New("doc: WordDocument stream missing or truncated")
	}
	if binary.LittleEndian.Uint16(wd) != fibMagic {
		return "", errors.New("doc: not a Word 97-2003 document")
	}

	flags := binary.LittleEndian.Uint16(wd[fibFlagsOffset:])
	if flags&fibFlagEncrypted != 0 {
		return "", errors.New("doc: encrypted documents are not supported")
	}
	tableName := "0Table"
	if flags&fibFlagWhichTable != 0 {
		tableName = "1Table"
	}
	table, ok := streams[tableName]
	if !ok {
		return "", fmt.Errorf("doc: %s stream missing", tableName)
	}

	ccpText := int(binary.LittleEndian.Uint32(wd[fibCcpTextOffset:]))
	fcClx := int(binary.LittleEndian.Uint32(wd[fibFcClxOffset:]))
	lcbClx := int(binary.LittleEndian.Uint32(wd[fibLcbClxOffset:]))
	if lcbClx == 0 || fcClx+lcbClx > len(table) {
		return "", errors.New("doc: piece table out of range")
	}

	pieces, err := parseClx(table[fcClx : fcClx+lcbClx])
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	remaining := ccpText
	for _, p := range pieces {
		n := p.cpEnd - p.cpStart
		if ccpText > 0 {
			if remaining <= 0 {
				break
			}
			n = min(n, remaining)
			remaining -= n
		}
		s, err := p.decode(wd, n)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return cleanWordText(sb.String()), nil
}

// parseClx skips any property modifiers (Prc) and decodes the Pcdt.
func parseClx(clx []byte) ([]piece, error) {
	for i := 0; i < len(clx); {
		switch clx[i] {
		case clxPrc:
			if i+3 > len(clx) {
				return nil, errors.New("doc: truncated Prc")
			}
			cb := int(int16(binary.LittleEndian.Uint16(clx[i+1:])))
			if cb < 0 {
				return nil, errors.New("doc: negative Prc size")
			}
			i += 3 + cb
		case clxPcdt:
			if i+5 > len(clx) {
				return nil, errors.New("doc: truncated Pcdt")
			}
			lcb := int(binary.LittleEndian.Uint32(clx[i+1:]))
			start := i + 5
			if start+lcb > len(clx) {
				return nil, errors.New("doc: Pcdt exceeds clx")
			}
			return parsePlcPcd(clx[start : start+lcb])
		default:
			return nil, fmt.Errorf("doc: unexpected clx entry 0x%02x", clx[i])
		}
	}
	return nil, errors.New("doc: piece table not found")
}

// parsePlcPcd decodes n+1 character positions followed by n piece descriptors.
func parsePlcPcd(plc []byte) ([]piece, error) {
	n := (len(plc) - 4) / (4 + pcdSize)
	if n <= 0 || 4*(n+1)+pcdSize*n != len(plc) {
		return nil, errors.New("doc: malformed piece table")
	}

	pieces := make([]piece, n)
	pcdBase := 4 * (n + 1)
	for i := range n {
		fc := binary.LittleEndian.Uint32(plc[pcdBase+pcdSize*i+2:])
		pieces[i] = piece{
			cpStart:    int(binary.LittleEndian.Uint32(plc[4*i:])),
			cpEnd:      int(binary.LittleEndian.Uint32(plc[4*(i+1):])),
			fc:         int(fc & fcMask),
			compressed: fc&fcCompressedFlag != 0,
		}
		if pieces[i].cpEnd < pieces[i].cpStart {
			return nil, errors.New("doc: piece table positions out of order")
		}
	}
	return pieces, nil
}

// decode reads n characters of this piece from the WordDocument stream.
// Compressed pieces hold one Windows-1252 byte per character, others hold
// UTF-16LE code units.
func (p piece) decode(wd []byte, n int) (string, error) {
	if p.compressed {
		off := p.fc / 2
		if off+n > len(wd) {
			return "", errors.New("doc: compressed piece out of range")
		}
		b, err := charmap.Windows1252.NewDecoder().Bytes(wd[off : off+n])
		if err != nil {
			return "", fmt.Errorf("doc: decode cp1252: %w", err)
		}
		return string(b), nil
	}

	off := p.fc
	if off+2*n > len(wd) {
		return "", errors.New("doc: unicode piece out of range")
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(wd[off+2*i:])
	}
	return string(utf16.Decode(units)), nil
}

// cleanWordText maps Word control characters to plain text. Paragraph marks
// become newlines, cell marks become tabs, and field instructions (between
// 0x13 and 0x14) are dropped while field results are kept. Form feeds are
// preserved so callers can split sections.
func cleanWordText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	fieldDepth := 0
	inInstr := false

	for _, r := range s {
		switch r {
		case 0x13:
			fieldDepth++
			inInstr = true
			continue
		case 0x14:
			inInstr = false
			continue
		case 0x15:
			if fieldDepth > 0 {
				fieldDepth--
			}
			inInstr = false
			continue
		}
		if inInstr {
			continue
		}

		switch {
		case r == '\r' || r == 0x0B:
			sb.WriteByte('\n')
		case r == 0x07:
			sb.WriteByte('\t')
		case r == '\f' || r == '\n' || r == '\t':
			sb.WriteRune(r)
		case r == 0x1E:
			sb.WriteByte('-')
		case r == 0xA0:
			sb.WriteByte(' ')
		case r < 0x20 || r == 0x1F:
			// drawing anchors, optional hyphens and other controls
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
