package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/dedup"
	"github.com/licitaciones/platform/pkg/terminology"
)

var captured = time.Date(2025, 2, 20, 15, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Vocabulary: terminology.DefaultCatalog(), Location: time.UTC}
}

func artifactFor(source, name string) Artifact {
	return Artifact{Source: source, Name: name, ModTime: captured, Key: ArtifactKey(captured, name)}
}

const comprasPayload = `{
  "total": 3,
  "data": [
    {
      "numero_procedimiento": "LA-50-GYR-050GYR047-N-12-2025",
      "codigo_expediente": "2816451",
      "dependencia": {"nombre": "Instituto Mexicano del Seguro Social", "siglas": "IMSS"},
      "unidad_compradora": {"nombre": "Coordinación de Abastecimiento", "clave": "050GYR047"},
      "titulo": "Adquisición de material de curación",
      "tipo_procedimiento": "LICITACIÓN PÚBLICA",
      "tipo_contratacion": "ADQUISICIONES",
      "caracter": "NACIONAL",
      "estatus": "Publicado",
      "fecha_publicacion": "18/02/2025",
      "fecha_junta_aclaraciones": "24/02/2025 10:00",
      "fecha_apertura": "3 de marzo de 2025 a las 10:00",
      "monto_estimado": 1250000.5,
      "moneda": "MXN",
      "entidad_federativa": "Ciudad de México",
      "url": "https://comprasmx.buengobierno.gob.mx/sitiopublico/#/sitiopublico/detalle/2816451"
    },
    {
      "numero_procedimiento": "IA-06-E00-006E00001-N-3-2025",
      "dependencia": "Secretaría de Hacienda y Crédito Público",
      "estatus": "En evaluación técnica",
      "monto_estimado": "no disponible"
    },
    {"titulo": "sin número ni dependencia"},
    "not an object"
  ]
}`

func TestJSONNormalizer(t *testing.T) {
	n := NewJSON(testOptions())
	res, err := n.Normalize(artifactFor("COMPRASMX", "expedientes_2025-02-20.json"), []byte(comprasPayload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Tenders) != 2 || res.Failures != 2 {
		t.Fatalf("expected 2 tenders and 2 failures, got %d and %d", len(res.Tenders), res.Failures)
	}

	first := res.Tenders[0]
	if first.NumeroProcedimiento != "LA-50-GYR-050GYR047-N-12-2025" {
		t.Fatalf("unexpected numero %q", first.NumeroProcedimiento)
	}
	if first.EntidadCompradora != "Instituto Mexicano del Seguro Social" {
		t.Fatalf("unexpected entidad %q", first.EntidadCompradora)
	}
	if first.UnidadCompradora != "Coordinación de Abastecimiento" {
		t.Fatalf("unexpected unidad %q", first.UnidadCompradora)
	}
	if first.Fuente != "COMPRASMX" || !first.FechaCaptura.Equal(captured) {
		t.Fatalf("unexpected provenance %s %s", first.Fuente, first.FechaCaptura)
	}
	if first.Estado != models.EstadoVigente {
		t.Fatalf("unexpected estado %s", first.Estado)
	}
	if first.MontoEstimado == nil || *first.MontoEstimado != 1250000.5 || first.Moneda != "MXN" {
		t.Fatalf("unexpected amount %v %s", first.MontoEstimado, first.Moneda)
	}
	if first.FechaPublicacion == nil || !first.FechaPublicacion.Equal(time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected fecha_publicacion %v", first.FechaPublicacion)
	}
	if first.FechaApertura == nil || first.FechaApertura.Hour() != 10 {
		t.Fatalf("unexpected fecha_apertura %v", first.FechaApertura)
	}
	if first.FechaFallo != nil {
		t.Fatal("absent fecha_fallo must stay nil")
	}
	if first.DatosEspecificos["codigo_expediente"] != "2816451" {
		t.Fatalf("expected codigo_expediente in datos_especificos, got %v", first.DatosEspecificos)
	}
	if first.DatosEspecificos["dependencia_siglas"] != "IMSS" {
		t.Fatalf("expected nested siglas in datos_especificos, got %v", first.DatosEspecificos)
	}
	if first.DatosEspecificos["estado_original"] != "Publicado" {
		t.Fatalf("expected estado_original, got %v", first.DatosEspecificos["estado_original"])
	}

	var original map[string]interface{}
	if err := json.Unmarshal(first.DatosOriginales, &original); err != nil {
		t.Fatalf("datos_originales is not JSON: %v", err)
	}
	if original["codigo_expediente"] != "2816451" {
		t.Fatalf("datos_originales should be the untouched record, got %v", original)
	}

	second := res.Tenders[1]
	if second.Estado != models.EstadoDesconocido {
		t.Fatalf("unmapped status should be DESCONOCIDO, got %s", second.Estado)
	}
	if second.DatosEspecificos["estado_original"] != "En evaluación técnica" {
		t.Fatalf("unmapped status must be kept verbatim, got %v", second.DatosEspecificos)
	}
	if second.MontoEstimado != nil {
		t.Fatalf("unparseable amount must be nil, got %v", *second.MontoEstimado)
	}
}

func TestJSONNormalizerTopLevelArrayAndSingleObject(t *testing.T) {
	n := NewJSON(testOptions())
	a := artifactFor("COMPRASMX", "x.json")

	res, err := n.Normalize(a, []byte(`[{"numero_procedimiento":"A-1","dependencia":"SEP"}]`))
	if err != nil || len(res.Tenders) != 1 {
		t.Fatalf("array: %v %d", err, len(res.Tenders))
	}
	res, err = n.Normalize(a, []byte(`{"numero_procedimiento":"A-1","dependencia":"SEP"}`))
	if err != nil || len(res.Tenders) != 1 {
		t.Fatalf("object: %v %d", err, len(res.Tenders))
	}
	if _, err := n.Normalize(a, []byte(`[{"numero_procedimiento":`)); err == nil {
		t.Fatal("truncated document should fail the artifact")
	}
}

func TestJSONCorruptElementCostsOneRecord(t *testing.T) {
	n := NewJSON(testOptions())
	a := artifactFor("COMPRASMX", "x.json")
	corrupt := `{"numero_procedimiento": ,"dependencia":"IMSS, \"Norte\" [B]"}`

	docs := map[string]string{
		"array":    `[{"numero_procedimiento":"LA-1","dependencia":"IMSS"}, ` + corrupt + `, {"numero_procedimiento":"LA-3","dependencia":"IMSS"}]`,
		"envelope": `{"total": 3, "data": [{"numero_procedimiento":"LA-1","dependencia":"IMSS"},` + corrupt + `,{"numero_procedimiento":"LA-3","dependencia":"IMSS"}]}`,
	}
	for name, doc := range docs {
		res, err := n.Normalize(a, []byte(doc))
		if err != nil {
			t.Fatalf("%s: Normalize: %v", name, err)
		}
		if len(res.Tenders) != 2 || res.Failures != 1 {
			t.Fatalf("%s: expected 2 tenders and 1 failure, got %d and %d", name, len(res.Tenders), res.Failures)
		}
		if res.Tenders[0].NumeroProcedimiento != "LA-1" || res.Tenders[1].NumeroProcedimiento != "LA-3" {
			t.Fatalf("%s: unexpected records %s, %s", name, res.Tenders[0].NumeroProcedimiento, res.Tenders[1].NumeroProcedimiento)
		}
	}

	if _, err := n.Normalize(a, []byte(`[{"numero_procedimiento":"LA-1"}, {"dependencia": [}`)); err == nil {
		t.Fatal("an array that never closes should fail the artifact")
	}
}

func TestJSONRoundTripIdentityIgnoresIncidentalFormatting(t *testing.T) {
	n := NewJSON(testOptions())
	a := artifactFor("COMPRASMX", "x.json")
	res, err := n.Normalize(a, []byte(`[
		{"numero_procedimiento":"LA-1","dependencia":"Secretaría de Salud"},
		{"numero_procedimiento":"  la-1 ","dependencia":"SECRETARIA   DE SALUD"}
	]`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if dedup.HashTender(res.Tenders[0]) != dedup.HashTender(res.Tenders[1]) {
		t.Fatal("expected equal identity hashes")
	}
	if res.Tenders[1].NumeroProcedimiento != "la-1" {
		t.Fatalf("whitespace should be trimmed, got %q", res.Tenders[1].NumeroProcedimiento)
	}
}
