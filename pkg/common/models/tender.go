package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Estado string

const (
	EstadoVigente     Estado = "VIGENTE"
	EstadoCerrado     Estado = "CERRADO"
	EstadoCancelado   Estado = "CANCELADO"
	EstadoDesierto    Estado = "DESIERTO"
	EstadoDesconocido Estado = "DESCONOCIDO"
)

func (e Estado) Valid() bool {
	switch e {
	case EstadoVigente, EstadoCerrado, EstadoCancelado, EstadoDesierto, EstadoDesconocido:
		return true
	}
	return false
}

// Tender is the canonical procurement notice shared by every source.
type Tender struct {
	IdentityHash string `json:"identity_hash,omitempty"`

	NumeroProcedimiento string `json:"numero_procedimiento"`
	EntidadCompradora   string `json:"entidad_compradora"`
	Fuente              string `json:"fuente"`

	Titulo           string `json:"titulo,omitempty"`
	Descripcion      string `json:"descripcion,omitempty"`
	UnidadCompradora string `json:"unidad_compradora,omitempty"`

	TipoProcedimiento string `json:"tipo_procedimiento,omitempty"`
	TipoContratacion  string `json:"tipo_contratacion,omitempty"`
	Estado            Estado `json:"estado"`

	FechaPublicacion       *time.Time `json:"fecha_publicacion,omitempty"`
	FechaApertura          *time.Time `json:"fecha_apertura,omitempty"`
	FechaFallo             *time.Time `json:"fecha_fallo,omitempty"`
	FechaJuntaAclaraciones *time.Time `json:"fecha_junta_aclaraciones,omitempty"`

	MontoEstimado *float64 `json:"monto_estimado,omitempty"`
	Moneda        string   `json:"moneda,omitempty"`

	ProveedorGanador  string `json:"proveedor_ganador,omitempty"`
	Caracter          string `json:"caracter,omitempty"`
	UUIDProcedimiento string `json:"uuid_procedimiento,omitempty"`

	EntidadFederativa string `json:"entidad_federativa,omitempty"`
	Municipio         string `json:"municipio,omitempty"`

	URLOriginal  string    `json:"url_original,omitempty"`
	FechaCaptura time.Time `json:"fecha_captura"`

	DatosOriginales  json.RawMessage        `json:"datos_originales,omitempty"`
	DatosEspecificos map[string]interface{} `json:"datos_especificos,omitempty"`
}

// FilledFields counts populated descriptive fields. Identity, provenance and
// payload fields are excluded since every candidate carries them.
func (t *Tender) FilledFields() int {
	n := 0
	for _, s := range []string{
		t.Titulo, t.Descripcion, t.UnidadCompradora, t.TipoProcedimiento,
		t.TipoContratacion, t.Moneda, t.ProveedorGanador, t.Caracter,
		t.UUIDProcedimiento, t.EntidadFederativa, t.Municipio, t.URLOriginal,
	} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	for _, d := range []*time.Time{t.FechaPublicacion, t.FechaApertura, t.FechaFallo, t.FechaJuntaAclaraciones} {
		if d != nil {
			n++
		}
	}
	if t.MontoEstimado != nil {
		n++
	}
	if t.Estado != "" && t.Estado != EstadoDesconocido {
		n++
	}
	return n
}
