// Package bundle measures a built dashboard and checks it against size
// budgets.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

type Kind string

const (
	KindJS    Kind = "js"
	KindCSS   Kind = "css"
	KindImage Kind = "image"
	KindFont  Kind = "font"
	KindHTML  Kind = "html"
	KindOther Kind = "other"
)

var kindsByExt = map[string]Kind{
	".js": KindJS, ".mjs": KindJS, ".cjs": KindJS,
	".css": KindCSS,
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".svg": KindImage, ".webp": KindImage, ".ico": KindImage, ".avif": KindImage,
	".woff": KindFont, ".woff2": KindFont, ".ttf": KindFont, ".otf": KindFont, ".eot": KindFont,
	".html": KindHTML, ".htm": KindHTML,
}

func Classify(name string) Kind {
	if k, ok := kindsByExt[strings.ToLower(path.Ext(name))]; ok {
		return k
	}
	return KindOther
}

type Asset struct {
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	Size     int64  `json:"size"`
	GzipSize int64  `json:"gzipSize"`
}

type KindTotal struct {
	Kind     Kind  `json:"kind"`
	Count    int   `json:"count"`
	Size     int64 `json:"size"`
	GzipSize int64 `json:"gzipSize"`
}

type Violation struct {
	Budget string `json:"budget"`
	// Subject is the offending asset, or empty for totals.
	Subject string `json:"subject,omitempty"`
	Actual  int64  `json:"actual"`
	Limit   int64  `json:"limit"`
}

func (v Violation) String() string {
	subject := ""
	if v.Subject != "" {
		subject = " (" + v.Subject + ")"
	}
	if v.Budget == "max_assets" {
		return fmt.Sprintf("%s%s: %d > %d", v.Budget, subject, v.Actual, v.Limit)
	}
	return fmt.Sprintf("%s%s: %s > %s", v.Budget, subject, Size(v.Actual), Size(v.Limit))
}

type Report struct {
	Dir         string      `json:"dir"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Assets      []Asset     `json:"assets"`
	Kinds       []KindTotal `json:"kinds"`
	TotalSize   int64       `json:"totalSize"`
	TotalGzip   int64       `json:"totalGzip"`
	Budgets     Budgets     `json:"budgets"`
	Violations  []Violation `json:"violations"`
}

// Passed reports whether no budget was exceeded.
func (r *Report) Passed() bool { return len(r.Violations) == 0 }

var ErrNoBuildDir = errors.New("bundle: build directory not found")

// Analyze measures every regular file under fsys. Assets are sorted by
// size, largest first.
func Analyze(fsys fs.FS) (*Report, error) {
	if _, err := fs.Stat(fsys, "."); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBuildDir
		}
		return nil, fmt.Errorf("bundle: stat build dir: %w", err)
	}

	r := &Report{Assets: []Asset{}, Violations: []Violation{}}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		a, err := measure(fsys, p)
		if err != nil {
			return err
		}
		r.Assets = append(r.Assets, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle: walk build dir: %w", err)
	}

	sort.Slice(r.Assets, func(i, j int) bool {
		if r.Assets[i].Size != r.Assets[j].Size {
			return r.Assets[i].Size > r.Assets[j].Size
		}
		return r.Assets[i].Path < r.Assets[j].Path
	})
	r.summarize()
	return r, nil
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

func measure(fsys fs.FS, p string) (Asset, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return Asset{}, err
	}
	defer f.Close()

	var gz countingWriter
	zw, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		return Asset{}, err
	}
	size, err := io.Copy(zw, f)
	if err != nil {
		return Asset{}, fmt.Errorf("read %s: %w", p, err)
	}
	if err := zw.Close(); err != nil {
		return Asset{}, err
	}
	return Asset{Path: p, Kind: Classify(p), Size: size, GzipSize: gz.n}, nil
}

func (r *Report) summarize() {
	totals := map[Kind]*KindTotal{}
	r.TotalSize, r.TotalGzip = 0, 0
	for _, a := range r.Assets {
		kt, ok := totals[a.Kind]
		if !ok {
			kt = &KindTotal{Kind: a.Kind}
			totals[a.Kind] = kt
		}
		kt.Count++
		kt.Size += a.Size
		kt.GzipSize += a.GzipSize
		r.TotalSize += a.Size
		r.TotalGzip += a.GzipSize
	}
	r.Kinds = make([]KindTotal, 0, len(totals))
	for _, kt := range totals {
		r.Kinds = append(r.Kinds, *kt)
	}
	sort.Slice(r.Kinds, func(i, j int) bool { return r.Kinds[i].Kind < r.Kinds[j].Kind })
}

func (r *Report) kindSize(k Kind) int64 {
	for _, kt := range r.Kinds {
		if kt.Kind == k {
			return kt.Size
		}
	}
	return 0
}

// Evaluate records b on the report and lists every exceeded budget.
func (r *Report) Evaluate(b Budgets) {
	r.Budgets = b
	r.Violations = []Violation{}
	if b.MaxTotalSize > 0 && r.TotalSize > int64(b.MaxTotalSize) {
		r.Violations = append(r.Violations, Violation{Budget: "max_total_size", Actual: r.TotalSize, Limit: int64(b.MaxTotalSize)})
	}
	if b.MaxChunkSize > 0 {
		for _, a := range r.Assets {
			if a.Kind == KindJS && a.Size > int64(b.MaxChunkSize) {
				r.Violations = append(r.Violations, Violation{Budget: "max_chunk_size", Subject: a.Path, Actual: a.Size, Limit: int64(b.MaxChunkSize)})
			}
		}
	}
	if css := r.kindSize(KindCSS); b.MaxCSSSize > 0 && css > int64(b.MaxCSSSize) {
		r.Violations = append(r.Violations, Violation{Budget: "max_css_size", Actual: css, Limit: int64(b.MaxCSSSize)})
	}
	if b.MaxAssets > 0 && len(r.Assets) > b.MaxAssets {
		r.Violations = append(r.Violations, Violation{Budget: "max_assets", Actual: int64(len(r.Assets)), Limit: int64(b.MaxAssets)})
	}
}
