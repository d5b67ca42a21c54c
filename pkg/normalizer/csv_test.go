package normalizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/models"
	"golang.org/x/text/encoding/charmap"
)

const openDataCSV = "\ufeffNúmero del procedimiento,Institución,Nombre de la UC,Título del expediente,Estatus,Fecha de publicación,Importe,Moneda,Código del expediente\n" +
	"LA-012M7B997-E1-2025,Secretaría de Salud,Dirección de Adquisiciones,Compra de vacunas,Adjudicado,2025-01-15,\"$1,500,000.00\",MXN,2780001\n" +
	",Secretaría de Salud,,Sin número,Publicado,2025-01-16,,,2780002\n" +
	"\n" +
	"AA-009000987-E2-2025,Secretaría de Comunicaciones,,Obra carretera,Desierta,16/01/2025,\"2,300\",,2780003\n"

func TestCSVNormalizer(t *testing.T) {
	res, err := NewCSV(testOptions()).Normalize(artifactFor("DATOS_ABIERTOS", "export.csv"), []byte(openDataCSV))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Tenders) != 2 || res.Failures != 1 {
		t.Fatalf("expected 2 tenders and 1 failure, got %d and %d", len(res.Tenders), res.Failures)
	}

	first := res.Tenders[0]
	if first.NumeroProcedimiento != "LA-012M7B997-E1-2025" || first.EntidadCompradora != "Secretaría de Salud" {
		t.Fatalf("unexpected identity %q / %q", first.NumeroProcedimiento, first.EntidadCompradora)
	}
	if first.UnidadCompradora != "Dirección de Adquisiciones" || first.Titulo != "Compra de vacunas" {
		t.Fatalf("unexpected descriptive fields %q %q", first.UnidadCompradora, first.Titulo)
	}
	if first.Estado != models.EstadoCerrado {
		t.Fatalf("unexpected estado %s", first.Estado)
	}
	if first.MontoEstimado == nil || *first.MontoEstimado != 1500000 {
		t.Fatalf("unexpected amount %v", first.MontoEstimado)
	}
	if first.DatosEspecificos["codigo_del_expediente"] != "2780001" {
		t.Fatalf("unexpected datos_especificos %v", first.DatosEspecificos)
	}

	second := res.Tenders[1]
	if second.Estado != models.EstadoDesierto {
		t.Fatalf("unexpected estado %s", second.Estado)
	}
	if second.FechaPublicacion == nil || !second.FechaPublicacion.Equal(time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected fecha %v", second.FechaPublicacion)
	}
	if second.MontoEstimado == nil || *second.MontoEstimado != 2300 {
		t.Fatalf("unexpected amount %v", second.MontoEstimado)
	}
	if second.Moneda != "" {
		t.Fatalf("no currency marker, got %q", second.Moneda)
	}
}

func TestCSVUnbalancedQuoteCostsOneRow(t *testing.T) {
	content := "numero_procedimiento,dependencia,titulo\n" +
		"LA-1,IMSS,uno\n" +
		"LA-2,\"IMSS,dos\n" +
		"LA-3,IMSS,tres\n" +
		"LA-4,IMSS,cuatro\n" +
		"LA-5,IMSS,Tubo 1/2\" galvanizado\n" +
		"LA-6,IMSS,\"Material\nde curación\"\n"

	res, err := NewCSV(testOptions()).Normalize(artifactFor("DATOS_ABIERTOS", "export.csv"), []byte(content))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Tenders) != 5 || res.Failures != 1 {
		t.Fatalf("expected 5 tenders and 1 failure, got %d and %d", len(res.Tenders), res.Failures)
	}
	want := []string{"LA-1", "LA-3", "LA-4", "LA-5", "LA-6"}
	for i, tender := range res.Tenders {
		if tender.NumeroProcedimiento != want[i] {
			t.Fatalf("row %d: expected %s, got %s", i, want[i], tender.NumeroProcedimiento)
		}
		if tender.EntidadCompradora != "IMSS" {
			t.Fatalf("%s: buyer swallowed other rows: %q", tender.NumeroProcedimiento, tender.EntidadCompradora)
		}
	}
	if !strings.Contains(res.Tenders[3].Titulo, `1/2"`) {
		t.Fatalf("bare quote row lost its text: %q", res.Tenders[3].Titulo)
	}
	if !strings.Contains(res.Tenders[4].Titulo, "curación") {
		t.Fatalf("multi-line field not kept: %q", res.Tenders[4].Titulo)
	}
}

func TestCSVUnclosedQuoteAtEOF(t *testing.T) {
	content := "numero_procedimiento,dependencia,titulo\nLA-1,IMSS,uno\nLA-2,\"IMSS,dos\nLA-3,IMSS,tres\nLA-4,IMSS,cuatro\n"

	res, err := NewCSV(testOptions()).Normalize(artifactFor("DATOS_ABIERTOS", "export.csv"), []byte(content))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Tenders) != 3 || res.Failures != 1 {
		t.Fatalf("expected 3 tenders and 1 failure, got %d and %d", len(res.Tenders), res.Failures)
	}
	if res.Tenders[1].NumeroProcedimiento != "LA-3" || res.Tenders[2].NumeroProcedimiento != "LA-4" {
		t.Fatalf("rows after the bad quote were lost: %s, %s", res.Tenders[1].NumeroProcedimiento, res.Tenders[2].NumeroProcedimiento)
	}
}

func TestCSVSemicolonWindows1252(t *testing.T) {
	content := "Número de procedimiento;Dependencia;Estatus\nIA-1;Secretaría de Educación Pública;Cancelado\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(content)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dir := t.TempDir()
	writeArtifact(t, dir, "legacy.csv", encoded, captured)

	reg, err := NewRegistry([]config.SourceConfig{{Name: "DATOS_ABIERTOS", Family: FamilyCSV}}, testOptions())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	scan, err := Scan(dir, "DATOS_ABIERTOS", 0, time.Now())
	if err != nil || len(scan.Artifacts) != 1 {
		t.Fatalf("Scan: %v", err)
	}
	res, err := reg.Normalize(scan.Artifacts[0])
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Tenders) != 1 {
		t.Fatalf("expected 1 tender, got %d", len(res.Tenders))
	}
	got := res.Tenders[0]
	if got.EntidadCompradora != "Secretaría de Educación Pública" {
		t.Fatalf("windows-1252 not decoded: %q", got.EntidadCompradora)
	}
	if got.Estado != models.EstadoCancelado {
		t.Fatalf("unexpected estado %s", got.Estado)
	}
}

func TestRegistryRejectsUnknownFamily(t *testing.T) {
	if _, err := NewRegistry([]config.SourceConfig{{Name: "X", Family: "xml"}}, testOptions()); err == nil {
		t.Fatal("expected unknown family error")
	}
	reg, _ := NewRegistry(nil, testOptions())
	if _, err := reg.Normalize(Artifact{Source: "NOPE", Path: filepath.Join(os.TempDir(), "nope")}); err == nil {
		t.Fatal("expected unknown source error")
	}
}
