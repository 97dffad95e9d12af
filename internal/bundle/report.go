package bundle

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV writes one row per asset.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "kind", "size", "gzip_size"}); err != nil {
		return err
	}
	for _, a := range r.Assets {
		row := []string{a.Path, string(a.Kind), strconv.FormatInt(a.Size, 10), strconv.FormatInt(a.GzipSize, 10)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary prints the human readable overview.
func (r *Report) WriteSummary(w io.Writer, top int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Bundle: %s\n", r.Dir)
	fmt.Fprintf(tw, "Total:\t%s\t(%s gzip)\t%d assets\n",
		humanize.Bytes(uint64(r.TotalSize)), humanize.Bytes(uint64(r.TotalGzip)), len(r.Assets))
	for _, kt := range r.Kinds {
		fmt.Fprintf(tw, "  %s\t%s\t(%s gzip)\t%d files\n",
			kt.Kind, humanize.Bytes(uint64(kt.Size)), humanize.Bytes(uint64(kt.GzipSize)), kt.Count)
	}
	if top > 0 && len(r.Assets) > 0 {
		fmt.Fprintln(tw, "Largest assets:")
		for i, a := range r.Assets {
			if i == top {
				break
			}
			fmt.Fprintf(tw, "  %s\t%s\t(%s gzip)\n", a.Path, humanize.Bytes(uint64(a.Size)), humanize.Bytes(uint64(a.GzipSize)))
		}
	}
	if r.Passed() {
		fmt.Fprintln(tw, "Budgets: all within limits")
	} else {
		fmt.Fprintf(tw, "Budgets: %d exceeded\n", len(r.Violations))
		for _, v := range r.Violations {
			fmt.Fprintf(tw, "  ! %s\n", v)
		}
	}
	return tw.Flush()
}
