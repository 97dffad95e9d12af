package bundle

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Size is a byte count that reads from YAML as either an integer or a
// human string such as "250 KB" or "1.5MiB".
type Size int64

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("bundle: line %d: invalid size %q: %w", node.Line, raw, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string { return humanize.Bytes(uint64(s)) }

// Budgets are the thresholds a build is checked against. Zero disables a
// check.
type Budgets struct {
	MaxTotalSize Size `yaml:"max_total_size" json:"maxTotalSize"`
	MaxChunkSize Size `yaml:"max_chunk_size" json:"maxChunkSize"`
	MaxCSSSize   Size `yaml:"max_css_size"   json:"maxCssSize"`
	MaxAssets    int  `yaml:"max_assets"     json:"maxAssets"`
}

func DefaultBudgets() Budgets {
	return Budgets{
		MaxTotalSize: 2 * 1000 * 1000,
		MaxChunkSize: 500 * 1000,
		MaxCSSSize:   100 * 1000,
		MaxAssets:    50,
	}
}

// LoadBudgets reads a YAML budget file. Keys missing from the file keep
// their default.
func LoadBudgets(path string) (Budgets, error) {
	b := DefaultBudgets()
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("bundle: read budgets: %w", err)
	}
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("bundle: parse budgets %s: %w", path, err)
	}
	return b, nil
}
