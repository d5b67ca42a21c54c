// Package terminology maps the status wording used by each source onto the
// canonical tender states.
package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/licitaciones/platform/pkg/common/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Catalog lists, per canonical state, the source terms that mean it.
type Catalog struct {
	Estados map[models.Estado][]string `yaml:"estados" json:"estados"`

	exact  map[string]models.Estado
	phrase []term
}

type term struct {
	text   string
	estado models.Estado
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Estados) == 0 {
		return Catalog{}, fmt.Errorf("status vocabulary empty")
	}
	for estado := range cat.Estados {
		if !estado.Valid() || estado == models.EstadoDesconocido {
			return Catalog{}, fmt.Errorf("status vocabulary: %q is not a mappable state", estado)
		}
	}
	return cat.index(), nil
}

func (c Catalog) index() Catalog {
	c.exact = make(map[string]models.Estado)
	c.phrase = nil
	for estado, terms := range c.Estados {
		for _, t := range terms {
			key := foldTerm(t)
			if key == "" {
				continue
			}
			c.exact[key] = estado
			c.phrase = append(c.phrase, term{text: key, estado: estado})
		}
	}
	sort.Slice(c.phrase, func(i, j int) bool {
		if len(c.phrase[i].text) != len(c.phrase[j].text) {
			return len(c.phrase[i].text) > len(c.phrase[j].text)
		}
		return c.phrase[i].text < c.phrase[j].text
	})
	return c
}

// Classify maps a raw status. An exact term wins; otherwise the longest term
// contained as whole words. Unmapped values return DESCONOCIDO and false.
func (c Catalog) Classify(raw string) (models.Estado, bool) {
	if c.exact == nil {
		c = c.index()
	}
	key := foldTerm(raw)
	if key == "" {
		return models.EstadoDesconocido, false
	}
	if estado, ok := c.exact[key]; ok {
		return estado, true
	}
	padded := " " + key + " "
	for _, t := range c.phrase {
		if strings.Contains(padded, " "+t.text+" ") {
			return t.estado, true
		}
	}
	return models.EstadoDesconocido, false
}

// foldTerm upper-cases, strips accents and punctuation, and collapses spaces.
func foldTerm(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return ' '
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

func DefaultCatalog() Catalog {
	return Catalog{Estados: map[models.Estado][]string{
		models.EstadoVigente: {
			"vigente", "publicado", "publicada", "abierto", "abierta", "activo", "activa",
			"en proceso", "en curso", "recepcion de propuestas", "junta de aclaraciones",
			"active", "planning", "planned",
		},
		models.EstadoCerrado: {
			"cerrado", "cerrada", "concluido", "concluida", "adjudicado", "adjudicada",
			"finalizado", "finalizada", "terminado", "terminada", "expirado", "fallo emitido",
			"contrato firmado", "complete",
		},
		models.EstadoCancelado: {
			"cancelado", "cancelada", "cancelacion", "se cancela", "cancelled", "withdrawn",
		},
		models.EstadoDesierto: {
			"desierto", "desierta", "declarado desierto", "declarada desierta", "unsuccessful",
		},
	}}.index()
}
