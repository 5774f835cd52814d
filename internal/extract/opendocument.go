package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const odfContentPath = "content.xml"

// odfText matches paragraph, heading, and span text in OpenDocument content.
var odfText = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)

var (
	odpPage  = regexp.MustCompile(`(?s)<draw:page[\s>].*?</draw:page>`)
	odsTable = regexp.MustCompile(`(?s)<table:table[\s>].*?</table:table>`)
)

// extractODP returns one page per <draw:page> slide.
func extractODP(content []byte) ([]Page, error) {
	return extractODF("ODP", content, odpPage)
}

// extractODS returns one page per <table:table> sheet.
func extractODS(content []byte) ([]Page, error) {
	return extractODF("ODS", content, odsTable)
}

func extractODF(format string, content []byte, unit *regexp.Regexp) ([]Page, error) {
	zr, err := openZip(format, content)
	if err != nil {
		return nil, err
	}
	data, err := readZipEntry(format, zr, odfContentPath)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	body := string(data)
	blocks := unit.FindAllString(body, -1)
	if len(blocks) == 0 {
		blocks = []string{body}
	}
	pages := make([]Page, len(blocks))
	for i, block := range blocks {
		var words []string
		for _, m := range odfText.FindAllStringSubmatch(block, -1) {
			if t := strings.TrimSpace(m[1]); t != "" {
				words = append(words, t)
			}
		}
		pages[i] = Page{Number: i + 1, Text: strings.Join(words, " ")}
	}
	return pages, nil
}
