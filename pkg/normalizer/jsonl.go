package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
)

// JSONLNormalizer reads line-delimited OCDS releases. A line may also hold a
// release package, in which case each of its releases is mapped.
type JSONLNormalizer struct {
	transformer *Transformer
	opts        Options
}

func NewJSONL(opts Options) *JSONLNormalizer {
	return &JSONLNormalizer{transformer: NewTransformer(opts.Vocabulary, opts.location()), opts: opts}
}

func (n *JSONLNormalizer) Family() string { return FamilyJSONL }

func (n *JSONLNormalizer) Normalize(a Artifact, content []byte) (Result, error) {
	var res Result
	for i, rawLine := range bytes.Split(content, []byte("\n")) {
		line := i + 1
		raw := bytes.TrimSpace(rawLine)
		if len(raw) == 0 {
			continue
		}
		releases, err := releasesOf(raw)
		if err != nil {
			res.Failures++
			logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).
				Debugf("skipping line %d", line)
			continue
		}
		for _, rel := range releases {
			tender, err := n.fromRelease(a, rel)
			if err != nil {
				res.Failures++
				logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).
					Debugf("skipping release on line %d", line)
				continue
			}
			res.Tenders = append(res.Tenders, tender)
		}
	}
	return res, nil
}

type release struct {
	data map[string]interface{}
	raw  json.RawMessage
}

func releasesOf(line []byte) ([]release, error) {
	obj, err := decodeObject(line)
	if err != nil {
		return nil, err
	}
	nested := extractSlice(obj["releases"])
	if nested == nil {
		return []release{{data: obj, raw: compact(line)}}, nil
	}
	out := make([]release, 0, len(nested))
	for _, item := range nested {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		raw, err := json.Marshal(m)
		if err != nil {
			continue
		}
		out = append(out, release{data: m, raw: raw})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("release package without releases")
	}
	return out, nil
}

func (n *JSONLNormalizer) fromRelease(a Artifact, rel release) (*models.Tender, error) {
	data := rel.data
	tender := extractMap(data["tender"])
	buyer := extractMap(data["buyer"])
	loc := n.opts.location()

	t := &models.Tender{
		NumeroProcedimiento: getString(tender["id"]),
		EntidadCompradora:   getString(buyer["name"]),
		Fuente:              a.Source,
		Titulo:              getString(tender["title"]),
		Descripcion:         getString(tender["description"]),
		UnidadCompradora:    getString(extractMap(tender["procuringEntity"])["name"]),
		TipoContratacion:    getString(tender["mainProcurementCategory"]),
		UUIDProcedimiento:   getString(data["ocid"]),
		FechaCaptura:        a.ModTime.UTC(),
		DatosOriginales:     rel.raw,
	}
	if t.NumeroProcedimiento == "" || t.EntidadCompradora == "" {
		return nil, errMissingIdentity
	}

	t.TipoProcedimiento = getString(tender["procurementMethodDetails"])
	if t.TipoProcedimiento == "" {
		t.TipoProcedimiento = getString(tender["procurementMethod"])
	}

	published := getString(tender["datePublished"])
	if published == "" {
		published = getString(data["date"])
	}
	t.FechaPublicacion = ParseDate(published, loc)
	t.FechaApertura = ParseDate(getString(extractMap(tender["tenderPeriod"])["endDate"]), loc)
	t.FechaJuntaAclaraciones = ParseDate(getString(extractMap(tender["enquiryPeriod"])["endDate"]), loc)

	value := extractMap(tender["value"])
	t.MontoEstimado = ParseMoney(getString(value["amount"]))
	t.Moneda = normalizeCurrency(getString(value["currency"]))

	if awards := extractSlice(data["awards"]); len(awards) > 0 {
		award := extractMap(awards[0])
		t.FechaFallo = ParseDate(getString(award["date"]), loc)
		if suppliers := extractSlice(award["suppliers"]); len(suppliers) > 0 {
			t.ProveedorGanador = getString(extractMap(suppliers[0])["name"])
		}
	}

	if docs := extractSlice(tender["documents"]); len(docs) > 0 {
		t.URLOriginal = getString(extractMap(docs[0])["url"])
	}

	buyerID := getString(buyer["id"])
	for _, p := range extractSlice(data["parties"]) {
		party := extractMap(p)
		if buyerID == "" || getString(party["id"]) != buyerID {
			continue
		}
		address := extractMap(party["address"])
		t.EntidadFederativa = getString(address["region"])
		t.Municipio = getString(address["locality"])
		break
	}

	classify(t, n.transformer.vocab, getString(tender["status"]))
	setSpecific(t, "ocid", getString(data["ocid"]))
	setSpecific(t, "release_id", getString(data["id"]))
	setSpecific(t, "procurement_method", getString(tender["procurementMethod"]))
	setSpecific(t, "buyer_id", buyerID)
	if tags := extractSlice(data["tag"]); len(tags) > 0 {
		names := make([]interface{}, 0, len(tags))
		for _, tag := range tags {
			if s := getString(tag); s != "" {
				names = append(names, s)
			}
		}
		if len(names) > 0 {
			setSpecific(t, "tag", names)
		}
	}
	return t, nil
}
