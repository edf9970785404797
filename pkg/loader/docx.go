package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const docXMLMax = 50 << 20

var manyNewlines = regexp.MustCompile(`\n{3,}`)

// parseDocx extracts the body text of a Word document. Tracked deletions
// are dropped, paragraphs become lines and table cells are tab separated.
func parseDocx(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}
	if body.UncompressedSize64 > docXMLMax {
		return "", fmt.Errorf("document.xml too large: %d bytes", body.UncompressedSize64)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(io.LimitReader(rc, docXMLMax))

	var sb strings.Builder
	var (
		inText   bool
		delDepth int
		inTable  bool
		cell     int
	)
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if delDepth > 0 && t.Name.Local != "del" {
				continue
			}
			switch t.Name.Local {
			case "del":
				delDepth++
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			case "noBreakHyphen":
				sb.WriteByte('-')
			case "tbl":
				inTable = true
				newline()
			case "tr":
				cell = 0
			case "tc":
				if inTable && cell > 0 {
					sb.WriteByte('\t')
				}
				cell++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "del":
				delDepth = max(delDepth-1, 0)
			case "t":
				inText = false
			case "p":
				if delDepth == 0 && !inTable {
					sb.WriteString("\n\n")
				}
			case "tr":
				if delDepth == 0 {
					sb.WriteByte('\n')
				}
			case "tbl":
				inTable = false
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if delDepth == 0 && inText {
				sb.Write(t)
			}
		}
	}

	text := manyNewlines.ReplaceAllString(strings.TrimSpace(sb.String()), "\n\n")
	return text, nil
}
