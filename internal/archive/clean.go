package archive

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Options controls Clean.
type Options struct {
	StripMetadata bool
}

// Result is a cleaned package and the names of the parts dropped from it.
type Result struct {
	Archive []byte
	Removed []string
}

// ScanOrphans lists embedded parts that no relationship references.
func ScanOrphans(data []byte) ([]string, error) {
	p, err := open(data)
	if err != nil {
		return nil, err
	}
	return p.orphans(), nil
}

// Clean rewrites a package without its orphaned embedded parts, their
// relationship parts and their [Content_Types].xml overrides. With
// StripMetadata the author, last-modified-by and revision properties and
// the company and manager properties are blanked. A package with nothing
// to change is returned byte for byte.
func Clean(data []byte, opts Options) (Result, error) {
	p, err := open(data)
	if err != nil {
		return Result{}, err
	}

	drop := make(map[string]bool)
	for _, name := range p.orphans() {
		drop[name] = true
	}
	for relsName := range p.rels {
		if drop[relsSourcePart(relsName)] {
			drop[relsName] = true
		}
	}

	if len(drop) == 0 && !opts.StripMetadata {
		return Result{Archive: data}, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range p.files {
		if drop[f.Name] {
			continue
		}

		var patch func([]byte) ([]byte, error)
		switch {
		case f.Name == contentTypesPart && len(drop) > 0:
			patch = func(b []byte) ([]byte, error) { return dropOverrides(b, drop) }
		case opts.StripMetadata && f.Name == "docProps/core.xml":
			patch = func(b []byte) ([]byte, error) { return blankElements(b, coreScrubTags), nil }
		case opts.StripMetadata && f.Name == "docProps/app.xml":
			patch = func(b []byte) ([]byte, error) { return blankElements(b, appScrubTags), nil }
		}

		if patch == nil {
			if err := zw.Copy(f); err != nil {
				return Result{}, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}

		content, err := readFile(f)
		if err != nil {
			return Result{}, err
		}
		content, err = patch(content)
		if err != nil {
			return Result{}, fmt.Errorf("patch %s: %w", f.Name, err)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return Result{}, fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := fw.Write(content); err != nil {
			return Result{}, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("finish archive: %w", err)
	}

	removed := make([]string, 0, len(drop))
	for name := range drop {
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return Result{Archive: buf.Bytes(), Removed: removed}, nil
}

type contentTypes struct {
	XMLName   xml.Name     `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []ctDefault  `xml:"Default"`
	Overrides []ctOverride `xml:"Override"`
}

type ctDefault struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type ctOverride struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

func dropOverrides(data []byte, drop map[string]bool) ([]byte, error) {
	var ct contentTypes
	if err := xml.Unmarshal(data, &ct); err != nil {
		return nil, err
	}
	kept := ct.Overrides[:0]
	for _, o := range ct.Overrides {
		if !drop[strings.TrimPrefix(o.PartName, "/")] {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(ct.Overrides) {
		return data, nil
	}
	ct.Overrides = kept

	out, err := xml.Marshal(ct)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

var (
	coreScrubTags = []string{"dc:creator", "cp:lastModifiedBy", "cp:revision"}
	appScrubTags  = []string{"Company", "Manager"}
)

// blankElements empties the text content of each named element, keeping
// the element and its attributes.
func blankElements(data []byte, tags []string) []byte {
	for _, tag := range tags {
		q := regexp.QuoteMeta(tag)
		re := regexp.MustCompile(`<` + q + `(\s[^>]*)?>[^<]*</` + q + `>`)
		data = re.ReplaceAll(data, []byte(`<`+tag+`${1}></`+tag+`>`))
	}
	return data
}
