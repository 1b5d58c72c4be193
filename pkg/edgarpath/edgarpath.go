// Package edgarpath maps EDGAR resources to remote URLs and local cache paths.
//
// Every function here is pure: no network or filesystem access. The same
// filing path always yields the same header and archive locations.
package edgarpath

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
)

// Cache subtree names under the data directory.
const (
	IndexDirName   = "idxfiles"
	HeaderDirName  = "headerfiles"
	FilingsDirName = "filings"

	// DefaultBaseURL is the provider's archive root.
	DefaultBaseURL = "https://www.sec.gov/Archives"

	indexFileName = "master.gz"
	headerSuffix  = ".hdr.sgml"
)

// Filing is a provider filing path split into its parts.
type Filing struct {
	CIK       string // as written in the index, no zero padding added
	Accession string // with dashes, e.g. 0001193125-19-012345
	Ext       string // file extension including the dot, usually ".txt"
}

// AccessionNoDashes returns the accession number with separators stripped,
// which is the folder name the provider uses inside a filer directory.
func (f Filing) AccessionNoDashes() string {
	return strings.ReplaceAll(f.Accession, "-", "")
}

// RemotePath rebuilds the provider filing path.
func (f Filing) RemotePath() string {
	return "edgar/data/" + f.CIK + "/" + f.Accession + f.Ext
}

// ParseFiling splits a filing path such as
// "edgar/data/1000045/0001193125-19-012345.txt".
func ParseFiling(remotePath string) (Filing, error) {
	parts := strings.Split(strings.Trim(remotePath, "/"), "/")
	if len(parts) < 2 {
		return Filing{}, errors.New(errors.CodeInvalidInput, "filing path has no cik segment").
			WithContext("path", remotePath)
	}
	cik := parts[len(parts)-2]
	name := parts[len(parts)-1]
	if cik == "" || name == "" {
		return Filing{}, errors.New(errors.CodeInvalidInput, "filing path has empty segments").
			WithContext("path", remotePath)
	}

	accession, ext := name, ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		accession, ext = name[:i], name[i:]
	}
	if accession == "" {
		return Filing{}, errors.New(errors.CodeInvalidInput, "filing path has no accession").
			WithContext("path", remotePath)
	}
	return Filing{CIK: cik, Accession: accession, Ext: ext}, nil
}

// Layout combines the provider base URL with the local cache root.
type Layout struct {
	BaseURL string
	Root    string
}

// NewLayout returns a layout, defaulting the base URL.
func NewLayout(baseURL, root string) Layout {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Layout{BaseURL: strings.TrimRight(baseURL, "/"), Root: root}
}

func (l Layout) url(rel string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/" + strings.TrimLeft(rel, "/")
}

// IndexDir returns the quarterly index subtree.
func (l Layout) IndexDir() string { return filepath.Join(l.Root, IndexDirName) }

// HeaderDir returns the header file subtree.
func (l Layout) HeaderDir() string { return filepath.Join(l.Root, HeaderDirName) }

// FilingsDir returns the filing archive subtree.
func (l Layout) FilingsDir() string { return filepath.Join(l.Root, FilingsDirName) }

// Index returns the catalog entry for one quarter. Cached is left false.
func (l Layout) Index(p model.Period) model.IndexFileRef {
	qtr := fmt.Sprintf("QTR%d", p.Quarter)
	year := strconv.Itoa(p.Year)
	return model.IndexFileRef{
		Period:    p,
		URL:       l.url("edgar/full-index/" + year + "/" + qtr + "/" + indexFileName),
		LocalPath: filepath.Join(l.IndexDir(), year, qtr, indexFileName),
	}
}

var indexPathPattern = regexp.MustCompile(`(\d{4})[\\/]QTR([1-4])[\\/]` + regexp.QuoteMeta(indexFileName) + `$`)

// PeriodOfIndexPath recovers the quarter from a cached index file path.
func PeriodOfIndexPath(path string) (model.Period, bool) {
	m := indexPathPattern.FindStringSubmatch(path)
	if m == nil {
		return model.Period{}, false
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	return model.Period{Year: year, Quarter: quarter}, true
}

// Header derives the SGML header resource for a filing path.
func (l Layout) Header(remotePath string) (model.DerivedRef, error) {
	f, err := ParseFiling(remotePath)
	if err != nil {
		return model.DerivedRef{}, err
	}
	name := f.Accession + headerSuffix
	return model.DerivedRef{
		Kind:      model.KindHeader,
		URL:       l.url("edgar/data/" + f.CIK + "/" + f.AccessionNoDashes() + "/" + name),
		LocalPath: filepath.Join(l.HeaderDir(), f.CIK, name),
	}, nil
}

// Archive derives the full submission archive for a filing path.
func (l Layout) Archive(remotePath string) (model.DerivedRef, error) {
	f, err := ParseFiling(remotePath)
	if err != nil {
		return model.DerivedRef{}, err
	}
	return model.DerivedRef{
		Kind:      model.KindArchive,
		URL:       l.url(remotePath),
		LocalPath: filepath.Join(l.FilingsDir(), f.CIK, f.Accession+f.Ext),
	}, nil
}

// Derive dispatches on kind.
func (l Layout) Derive(kind model.ResourceKind, remotePath string) (model.DerivedRef, error) {
	switch kind {
	case model.KindHeader:
		return l.Header(remotePath)
	case model.KindArchive:
		return l.Archive(remotePath)
	default:
		return model.DerivedRef{}, errors.Newf(errors.CodeInvalidInput, "unknown resource kind %d", kind)
	}
}
