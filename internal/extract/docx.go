package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// overrideRe matches one <Override .../> element of [Content_Types].xml.
var overrideRe = regexp.MustCompile(`<Override\s[^>]*>`)

var partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)

// docxMainPart returns the main document part named in [Content_Types].xml, or the
// conventional word/document.xml when none is declared.
func docxMainPart(zr *zip.Reader) string {
	ct, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return docxDocumentXMLPath
	}
	for _, el := range overrideRe.FindAllString(string(ct), -1) {
		if !strings.Contains(el, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameAttr.FindStringSubmatch(el); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX returns the paragraphs of a Word document, one per line.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	data, err := readZipFile(zr, docxMainPart(zr))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	text, err := paragraphText(data)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	return text, nil
}
