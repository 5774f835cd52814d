package extract

import (
	"archive/zip"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// slideName matches ppt/slides/slideN.xml and captures N.
var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX returns one page per slide, ordered by slide number (not zip order).
func extractPPTX(content []byte) ([]Page, error) {
	zr, err := openZip("PPTX", content)
	if err != nil {
		return nil, err
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]Page, 0, len(slides))
	for i, s := range slides {
		data, err := readZipFile("PPTX", s.f)
		if err != nil {
			return nil, err
		}
		var words []string
		for _, m := range atTag.FindAllStringSubmatch(string(data), -1) {
			if t := strings.TrimSpace(m[1]); t != "" {
				words = append(words, t)
			}
		}
		pages = append(pages, Page{Number: i + 1, Text: strings.Join(words, " ")})
	}
	return pages, nil
}
