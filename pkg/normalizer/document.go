package normalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
)

var (
	reNoticeEnd    = regexp.MustCompile(`\(R\.\s*-\s*(\d+)\)`)
	reLabeledLine  = regexp.MustCompile(`^\s*(.+?)(?:\s*:\s*|\s{2,}|\t+)(\S.*)$`)
	reProseAmount  = regexp.MustCompile(`\$\s?\d[\d.,]*(?:\s*(?:M\.?\s?N\.?|MXN|USD|pesos|d[oó]lares))?`)
	reProcedureHdr = regexp.MustCompile(`^(licitacion publica|invitacion a cuando menos|adjudicacion directa|concurso)`)
)

// labelFields maps the folded labels of a convocatoria summary to a target.
// Targets prefixed with "+" go to datos_especificos.
var labelFields = map[string]string{
	"no. de licitacion":                        "numero",
	"no de licitacion":                         "numero",
	"numero de licitacion":                     "numero",
	"no. de procedimiento":                     "numero",
	"numero de procedimiento":                  "numero",
	"no. de procedimiento de contratacion":     "numero",
	"caracter":                                 "caracter",
	"caracter de la licitacion":                "caracter",
	"objeto de la licitacion":                  "titulo",
	"descripcion de la licitacion":             "titulo",
	"objeto":                                   "titulo",
	"volumen a adquirir":                       "+volumen",
	"volumen a contratar":                      "+volumen",
	"fecha de publicacion en compranet":        "publicacion",
	"fecha de publicacion en compras mx":       "publicacion",
	"fecha de publicacion":                     "publicacion",
	"junta de aclaraciones":                    "junta",
	"visita a instalaciones":                   "+visita",
	"visita al sitio":                          "+visita",
	"presentacion y apertura de proposiciones": "apertura",
	"apertura de proposiciones":                "apertura",
	"fallo":                                    "fallo",
	"fecha de fallo":                           "fallo",
	"monto":                                    "monto",
	"monto estimado":                           "monto",
	"importe":                                  "monto",
	"presupuesto":                              "monto",
	"entidad federativa":                       "entidad_federativa",
	"municipio":                                "municipio",
}

// labelsByLength lets longer labels win over their prefixes.
var labelsByLength = func() []string {
	labels := make([]string, 0, len(labelFields))
	for l := range labelFields {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })
	return labels
}()

// TextNormalizer extracts convocatoria summaries from gazette text. Notices
// end with a "(R.- 123456)" reference; labeled lines carry the fields.
type TextNormalizer struct {
	opts Options
}

func NewText(opts Options) *TextNormalizer {
	return &TextNormalizer{opts: opts}
}

func (n *TextNormalizer) Family() string { return FamilyText }

func (n *TextNormalizer) Normalize(a Artifact, content []byte) (Result, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	issue, hasIssue := DateFromName(a.Name, n.opts.location())
	edition := editionFromName(a.Name)

	var res Result
	start := 0
	ends := reNoticeEnd.FindAllStringSubmatchIndex(text, -1)
	for i := 0; i <= len(ends); i++ {
		var body, ref string
		if i < len(ends) {
			body = text[start:ends[i][0]]
			ref = text[ends[i][2]:ends[i][3]]
			start = ends[i][1]
		} else {
			body = text[start:]
		}
		if !looksLikeNotice(body) {
			continue
		}

		tender, err := n.parseNotice(a, body)
		if err != nil {
			res.Failures++
			logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).
				Debugf("skipping notice %d", i+1)
			continue
		}
		setSpecific(tender, "referencia_dof", ref)
		setSpecific(tender, "edicion", edition)
		if hasIssue {
			if tender.FechaPublicacion == nil {
				d := issue.UTC()
				tender.FechaPublicacion = &d
			}
			setSpecific(tender, "fecha_edicion", issue.Format("2006-01-02"))
			// The issue page is derived, not published with the notice.
			setSpecific(tender, "url_edicion", editionURL(issue, edition))
		}
		res.Tenders = append(res.Tenders, tender)
	}
	return res, nil
}

func looksLikeNotice(body string) bool {
	f := fold(body)
	return strings.Contains(f, "resumen de convocatoria") || strings.Contains(f, "licitacion")
}

func (n *TextNormalizer) parseNotice(a Artifact, body string) (*models.Tender, error) {
	loc := n.opts.location()
	lines := strings.Split(body, "\n")
	t := &models.Tender{
		Fuente:       a.Source,
		FechaCaptura: a.ModTime.UTC(),
	}

	var header []string
	inHeader := true
	for _, line := range lines {
		trimmed := cleanText(line)
		if trimmed == "" {
			continue
		}
		folded := fold(trimmed)

		if inHeader {
			if strings.HasPrefix(folded, "resumen de convocatoria") || folded == "convocatoria" {
				inHeader = false
				continue
			}
			if isSectionHeading(folded) {
				continue
			}
			if isUpperLine(trimmed) && !reProcedureHdr.MatchString(folded) {
				header = append(header, trimmed)
				continue
			}
			if _, _, labeled := splitLabel(line); !labeled && !reProcedureHdr.MatchString(folded) {
				// The issuer block sits right above the summary title.
				header = nil
				continue
			}
		}
		if reProcedureHdr.MatchString(folded) && t.TipoProcedimiento == "" {
			inHeader = false
			t.TipoProcedimiento = trimmed
			continue
		}

		label, value, ok := splitLabel(line)
		if !ok {
			continue
		}
		inHeader = false
		switch target := labelFields[label]; target {
		case "numero":
			t.NumeroProcedimiento = value
		case "caracter":
			t.Caracter = value
		case "titulo":
			t.Titulo = value
		case "publicacion":
			t.FechaPublicacion = ParseDate(value, loc)
		case "junta":
			t.FechaJuntaAclaraciones = ParseDate(value, loc)
		case "apertura":
			t.FechaApertura = ParseDate(value, loc)
		case "fallo":
			t.FechaFallo = ParseDate(value, loc)
		case "monto":
			t.MontoEstimado = ParseMoney(value)
			t.Moneda = DetectCurrency(value)
		case "entidad_federativa":
			t.EntidadFederativa = value
		case "municipio":
			t.Municipio = value
		default:
			if strings.HasPrefix(target, "+") {
				setSpecific(t, strings.TrimPrefix(target, "+"), value)
			}
		}
	}

	if len(header) > 0 {
		t.EntidadCompradora = header[0]
		if len(header) > 1 {
			t.UnidadCompradora = strings.Join(header[1:], " ")
		}
	}
	if t.NumeroProcedimiento == "" || t.EntidadCompradora == "" {
		return nil, fmt.Errorf("notice without number or issuing entity")
	}

	if t.MontoEstimado == nil {
		if m := reProseAmount.FindString(body); m != "" {
			t.MontoEstimado = ParseMoney(m)
			t.Moneda = DetectCurrency(m)
		}
	}
	if t.MontoEstimado != nil && t.Moneda == "" {
		t.Moneda = "MXN"
	}
	t.TipoContratacion = contratacionFromTitle(t.Titulo)
	t.Estado, t.DatosEspecificos = noticeStatus(body, t.DatosEspecificos)
	t.DatosOriginales = textPayload(body)
	return t, nil
}

// splitLabel recognizes "Label: value" and column-aligned "Label    value".
func splitLabel(line string) (string, string, bool) {
	m := reLabeledLine.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	label := strings.Trim(fold(cleanText(m[1])), ":")
	label = strings.TrimSpace(label)
	value := cleanText(m[2])
	if _, known := labelFields[label]; known {
		return label, value, true
	}
	for _, l := range labelsByLength {
		if strings.HasPrefix(label, l+" ") {
			return l, value, true
		}
	}
	return "", "", false
}

func isSectionHeading(folded string) bool {
	for _, prefix := range []string{"convocatorias", "avisos", "diario oficial", "seccion", "(", "rubrica"} {
		if strings.HasPrefix(folded, prefix) {
			return true
		}
	}
	return false
}

func isUpperLine(s string) bool {
	letters := 0
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if (r >= 'A' && r <= 'Z') || r > 127 {
			letters++
		}
	}
	return letters >= 3 && strings.ToUpper(s) == s
}

func noticeStatus(body string, specifics map[string]interface{}) (models.Estado, map[string]interface{}) {
	estado := models.EstadoVigente
	var marker string
	for _, line := range strings.Split(body, "\n") {
		f := fold(line)
		switch {
		case strings.Contains(f, "cancelacion") || strings.Contains(f, "se cancela"):
			estado, marker = models.EstadoCancelado, cleanText(line)
		case strings.Contains(f, "desiert"):
			estado, marker = models.EstadoDesierto, cleanText(line)
		default:
			continue
		}
		break
	}
	if marker != "" {
		if specifics == nil {
			specifics = map[string]interface{}{}
		}
		specifics["estado_original"] = marker
	}
	return estado, specifics
}

func contratacionFromTitle(title string) string {
	f := fold(title)
	switch {
	case f == "":
		return ""
	case strings.HasPrefix(f, "adquisicion"), strings.HasPrefix(f, "suministro"), strings.HasPrefix(f, "compra"):
		return "ADQUISICIONES"
	case strings.HasPrefix(f, "arrendamiento"):
		return "ARRENDAMIENTOS"
	case strings.Contains(f, "obra publica"), strings.HasPrefix(f, "construccion"), strings.HasPrefix(f, "obra"):
		return "OBRA PUBLICA"
	case strings.HasPrefix(f, "servicio"), strings.HasPrefix(f, "contratacion"), strings.HasPrefix(f, "prestacion"):
		return "SERVICIOS"
	}
	return ""
}

func editionFromName(name string) string {
	f := fold(name)
	switch {
	case strings.Contains(f, "vesp"):
		return "VESPERTINA"
	case strings.Contains(f, "extra"):
		return "EXTRAORDINARIA"
	case strings.Contains(f, "mat"):
		return "MATUTINA"
	}
	return ""
}

func editionURL(issue time.Time, edition string) string {
	url := fmt.Sprintf("https://dof.gob.mx/index.php?year=%d&month=%02d&day=%02d", issue.Year(), int(issue.Month()), issue.Day())
	switch edition {
	case "VESPERTINA":
		url += "&edicion=VES"
	case "EXTRAORDINARIA":
		url += "&edicion=EXT"
	case "MATUTINA":
		url += "&edicion=MAT"
	}
	return url
}

func textPayload(body string) json.RawMessage {
	payload, err := json.Marshal(map[string]string{"texto": strings.TrimSpace(body)})
	if err != nil {
		return nil
	}
	return payload
}
