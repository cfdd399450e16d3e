// Package archive removes embedded files that nothing references any more
// from saved OPC document packages (docx, xlsx, pptx) and optionally scrubs
// authoring metadata.
package archive

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

const contentTypesPart = "[Content_Types].xml"

var ErrNotArchive = errors.New("archive: not a zip package")

type relationships struct {
	Items []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// pkg is a parsed package: its parts in archive order and the
// relationship targets declared by each relationship part.
type pkg struct {
	files []*zip.File
	// rels maps a relationship part name to the resolved part names it targets.
	rels map[string][]string
}

func open(data []byte) (*pkg, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotArchive, err)
	}

	p := &pkg{
		files: zr.File,
		rels:  make(map[string][]string),
	}
	for _, f := range zr.File {
		if !isRelsPart(f.Name) {
			continue
		}
		content, err := readFile(f)
		if err != nil {
			return nil, err
		}
		var rs relationships
		if err := xml.Unmarshal(content, &rs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		base := relsBaseDir(f.Name)
		for _, r := range rs.Items {
			if strings.EqualFold(r.TargetMode, "External") {
				continue
			}
			if target, ok := resolveTarget(base, r.Target); ok {
				p.rels[f.Name] = append(p.rels[f.Name], target)
			}
		}
	}
	return p, nil
}

// orphans returns embedded parts no live relationship points at. A
// relationship part whose source part is itself an orphan does not keep
// anything alive, so the search repeats until nothing new is found.
func (p *pkg) orphans() []string {
	removed := make(map[string]bool)
	for {
		referenced := make(map[string]bool)
		for relsName, targets := range p.rels {
			if removed[relsSourcePart(relsName)] {
				continue
			}
			for _, t := range targets {
				referenced[t] = true
			}
		}

		grew := false
		for _, f := range p.files {
			if isEmbedded(f.Name) && !referenced[f.Name] && !removed[f.Name] {
				removed[f.Name] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isRelsPart reports whether name is a relationship part (_rels/*.rels).
func isRelsPart(name string) bool {
	return strings.HasSuffix(name, ".rels") && path.Base(path.Dir(name)) == "_rels"
}

// isEmbedded reports whether name lives under a media or embeddings
// directory below the package root, such as word/media/image1.png.
func isEmbedded(name string) bool {
	if strings.HasSuffix(name, "/") || isRelsPart(name) {
		return false
	}
	dirs := strings.Split(path.Dir(name), "/")
	for i, d := range dirs {
		if i > 0 && (d == "media" || d == "embeddings") {
			return true
		}
	}
	return false
}

// relsBaseDir returns the directory relationship targets are relative to:
// the directory of the source part, e.g. "word" for word/_rels/document.xml.rels.
func relsBaseDir(relsName string) string {
	dir := path.Dir(path.Dir(relsName))
	if dir == "." {
		return ""
	}
	return dir
}

// relsSourcePart returns the part a relationship part belongs to.
func relsSourcePart(relsName string) string {
	return path.Join(relsBaseDir(relsName), strings.TrimSuffix(path.Base(relsName), ".rels"))
}

func resolveTarget(base, target string) (string, bool) {
	if t, err := url.PathUnescape(target); err == nil {
		target = t
	}
	if i := strings.IndexAny(target, "#?"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return "", false
	}
	var full string
	if strings.HasPrefix(target, "/") {
		full = path.Clean(strings.TrimPrefix(target, "/"))
	} else {
		full = path.Clean(path.Join(base, target))
	}
	if full == "." || strings.HasPrefix(full, "../") {
		return "", false
	}
	return full, true
}

// maxPartSize caps the decompressed size of any part read into memory.
const maxPartSize = 16 << 20

func readFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxPartSize {
		return nil, fmt.Errorf("%w: part %s exceeds %d bytes", ErrNotArchive, f.Name, maxPartSize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(content) > maxPartSize {
		return nil, fmt.Errorf("%w: part %s exceeds %d bytes", ErrNotArchive, f.Name, maxPartSize)
	}
	return content, nil
}
