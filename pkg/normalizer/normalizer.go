// Package normalizer turns the artifacts deposited for each source into
// canonical tender candidates. One Normalizer exists per source family;
// sources are dispatched to their family by tag.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/terminology"
)

const (
	FamilyJSON  = "json"
	FamilyJSONL = "jsonl"
	FamilyCSV   = "csv"
	FamilyText  = "text"
)

var (
	ErrUnknownFamily = errors.New("unknown source family")
	ErrUnknownSource = errors.New("unknown source")
)

// Result is what one artifact yields. Failures counts records that could not
// be mapped; they never abort the artifact.
type Result struct {
	Tenders  []*models.Tender
	Failures int
}

// Normalizer maps the decoded content of one artifact. A returned error means
// the artifact as a whole could not be read.
type Normalizer interface {
	Family() string
	Normalize(a Artifact, content []byte) (Result, error)
}

// Options are shared by every family.
type Options struct {
	Vocabulary terminology.Catalog
	Location   *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// New builds the normalizer for a family.
func New(family string, opts Options) (Normalizer, error) {
	if opts.Vocabulary.Estados == nil {
		opts.Vocabulary = terminology.DefaultCatalog()
	}
	switch strings.ToLower(family) {
	case FamilyJSON:
		return NewJSON(opts), nil
	case FamilyJSONL:
		return NewJSONL(opts), nil
	case FamilyCSV:
		return NewCSV(opts), nil
	case FamilyText:
		return NewText(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
}

// Registry is the dispatch table from source tag to normalizer.
type Registry struct {
	bySource map[string]Normalizer
}

func NewRegistry(sources []config.SourceConfig, opts Options) (*Registry, error) {
	r := &Registry{bySource: make(map[string]Normalizer, len(sources))}
	for _, src := range sources {
		n, err := New(src.Family, opts)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		r.bySource[src.Name] = n
	}
	return r, nil
}

func (r *Registry) Lookup(source string) (Normalizer, bool) {
	n, ok := r.bySource[source]
	return n, ok
}

// Normalize reads the artifact and maps it with its source's normalizer.
func (r *Registry) Normalize(a Artifact) (Result, error) {
	n, ok := r.bySource[a.Source]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSource, a.Source)
	}
	content, err := readArtifact(a)
	if err != nil {
		return Result{}, err
	}
	return n.Normalize(a, content)
}

// classify fills estado and records the source's own wording.
func classify(t *models.Tender, vocab terminology.Catalog, raw string) {
	raw = cleanText(raw)
	if raw == "" {
		t.Estado = models.EstadoDesconocido
		return
	}
	estado, _ := vocab.Classify(raw)
	t.Estado = estado
	setSpecific(t, "estado_original", raw)
}

func setSpecific(t *models.Tender, key string, value interface{}) {
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return
	}
	if value == nil {
		return
	}
	if t.DatosEspecificos == nil {
		t.DatosEspecificos = map[string]interface{}{}
	}
	t.DatosEspecificos[key] = value
}
