// Package compliance finds sensitive patterns (emails, phone numbers, IBANs)
// in snapshot files.
package compliance

import (
	"context"
	"os"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// Pattern pairs a finding type with its matcher.
type Pattern struct {
	Type attestation.FindingType
	Re   *regexp.Regexp
}

// DefaultPatterns is applied in this order within every file. Digits and
// spaces are Unicode classes (\p{Nd}, \p{Z}); RE2's \d and \s are ASCII only.
// \b stays ASCII, RE2 has no Unicode word boundary.
var DefaultPatterns = []Pattern{
	{attestation.FindingEmail, regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9.-]+`)},
	{attestation.FindingPhone, regexp.MustCompile(`\+?\p{Nd}[\p{Nd}\s\p{Z}\-().]{7,}\p{Nd}`)},
	{attestation.FindingIBAN, regexp.MustCompile(`\b[A-Z]{2}\p{Nd}{2}[A-Z0-9]{11,30}\b`)},
}

// Scanner implements attestation.Scanner.
type Scanner struct {
	Patterns    []Pattern
	Concurrency int
}

func NewScanner() *Scanner {
	return &Scanner{Patterns: DefaultPatterns, Concurrency: runtime.GOMAXPROCS(0)}
}

// Scan reads every regular file under root and returns its findings ordered
// by relative path, then pattern, then match position. Unreadable or empty
// files contribute nothing.
func (s *Scanner) Scan(ctx context.Context, root string) ([]attestation.ComplianceFinding, error) {
	entries, err := fswalk.List(root)
	if err != nil {
		return nil, attestation.IOError("walk snapshot", root, err)
	}

	patterns := s.Patterns
	if patterns == nil {
		patterns = DefaultPatterns
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}

	// one slot per file keeps the merge independent of goroutine scheduling
	perFile := make([][]attestation.ComplianceFinding, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i] = scanFile(e, patterns)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]attestation.ComplianceFinding, 0)
	for _, fs := range perFile {
		out = append(out, fs...)
	}
	return out, nil
}

func scanFile(e fswalk.Entry, patterns []Pattern) []attestation.ComplianceFinding {
	raw, err := os.ReadFile(e.Path)
	if err != nil || len(raw) == 0 {
		return nil
	}
	text := strings.ToValidUTF8(string(raw), "�")
	return ScanText(e.Rel, text, patterns)
}

// ScanText applies patterns to text, attributing matches to path.
func ScanText(path, text string, patterns []Pattern) []attestation.ComplianceFinding {
	var out []attestation.ComplianceFinding
	for _, p := range patterns {
		for _, m := range p.Re.FindAllString(text, -1) {
			out = append(out, attestation.ComplianceFinding{Type: p.Type, Path: path, Detail: m})
		}
	}
	return out
}
