package store

import (
	"encoding/json"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// TenderModel is the row layout of the canonical tenders table.
type TenderModel struct {
	ID           uint   `gorm:"primaryKey;column:id"`
	IdentityHash string `gorm:"column:identity_hash;size:64;uniqueIndex;not null"`

	NumeroProcedimiento string `gorm:"column:numero_procedimiento;not null"`
	EntidadCompradora   string `gorm:"column:entidad_compradora;index;not null"`
	Fuente              string `gorm:"column:fuente;index;not null"`

	Titulo           string `gorm:"column:titulo"`
	Descripcion      string `gorm:"column:descripcion"`
	UnidadCompradora string `gorm:"column:unidad_compradora"`

	TipoProcedimiento string `gorm:"column:tipo_procedimiento"`
	TipoContratacion  string `gorm:"column:tipo_contratacion"`
	Estado            string `gorm:"column:estado;index"`

	FechaPublicacion       *time.Time `gorm:"column:fecha_publicacion;index"`
	FechaApertura          *time.Time `gorm:"column:fecha_apertura"`
	FechaFallo             *time.Time `gorm:"column:fecha_fallo"`
	FechaJuntaAclaraciones *time.Time `gorm:"column:fecha_junta_aclaraciones"`

	MontoEstimado *float64 `gorm:"column:monto_estimado"`
	Moneda        string   `gorm:"column:moneda"`

	ProveedorGanador  string `gorm:"column:proveedor_ganador"`
	Caracter          string `gorm:"column:caracter"`
	UUIDProcedimiento string `gorm:"column:uuid_procedimiento"`

	EntidadFederativa string `gorm:"column:entidad_federativa"`
	Municipio         string `gorm:"column:municipio"`

	URLOriginal  string    `gorm:"column:url_original"`
	FechaCaptura time.Time `gorm:"column:fecha_captura"`

	DatosOriginales  datatypes.JSON    `gorm:"column:datos_originales"`
	DatosEspecificos datatypes.JSONMap `gorm:"column:datos_especificos"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (TenderModel) TableName() string {
	return "licitaciones"
}

func toModel(t *models.Tender) *TenderModel {
	m := &TenderModel{
		IdentityHash:           t.IdentityHash,
		NumeroProcedimiento:    t.NumeroProcedimiento,
		EntidadCompradora:      t.EntidadCompradora,
		Fuente:                 t.Fuente,
		Titulo:                 t.Titulo,
		Descripcion:            t.Descripcion,
		UnidadCompradora:       t.UnidadCompradora,
		TipoProcedimiento:      t.TipoProcedimiento,
		TipoContratacion:       t.TipoContratacion,
		Estado:                 string(t.Estado),
		FechaPublicacion:       t.FechaPublicacion,
		FechaApertura:          t.FechaApertura,
		FechaFallo:             t.FechaFallo,
		FechaJuntaAclaraciones: t.FechaJuntaAclaraciones,
		MontoEstimado:          t.MontoEstimado,
		Moneda:                 t.Moneda,
		ProveedorGanador:       t.ProveedorGanador,
		Caracter:               t.Caracter,
		UUIDProcedimiento:      t.UUIDProcedimiento,
		EntidadFederativa:      t.EntidadFederativa,
		Municipio:              t.Municipio,
		URLOriginal:            t.URLOriginal,
		FechaCaptura:           t.FechaCaptura.UTC(),
	}
	if len(t.DatosOriginales) > 0 {
		m.DatosOriginales = datatypes.JSON(t.DatosOriginales)
	}
	if len(t.DatosEspecificos) > 0 {
		m.DatosEspecificos = datatypes.JSONMap(t.DatosEspecificos)
	}
	return m
}

func (m *TenderModel) toTender() *models.Tender {
	t := &models.Tender{
		IdentityHash:           m.IdentityHash,
		NumeroProcedimiento:    m.NumeroProcedimiento,
		EntidadCompradora:      m.EntidadCompradora,
		Fuente:                 m.Fuente,
		Titulo:                 m.Titulo,
		Descripcion:            m.Descripcion,
		UnidadCompradora:       m.UnidadCompradora,
		TipoProcedimiento:      m.TipoProcedimiento,
		TipoContratacion:       m.TipoContratacion,
		Estado:                 models.Estado(m.Estado),
		FechaPublicacion:       m.FechaPublicacion,
		FechaApertura:          m.FechaApertura,
		FechaFallo:             m.FechaFallo,
		FechaJuntaAclaraciones: m.FechaJuntaAclaraciones,
		MontoEstimado:          m.MontoEstimado,
		Moneda:                 m.Moneda,
		ProveedorGanador:       m.ProveedorGanador,
		Caracter:               m.Caracter,
		UUIDProcedimiento:      m.UUIDProcedimiento,
		EntidadFederativa:      m.EntidadFederativa,
		Municipio:              m.Municipio,
		URLOriginal:            m.URLOriginal,
		FechaCaptura:           m.FechaCaptura,
	}
	if len(m.DatosOriginales) > 0 {
		t.DatosOriginales = json.RawMessage(m.DatosOriginales)
	}
	if len(m.DatosEspecificos) > 0 {
		t.DatosEspecificos = map[string]interface{}(m.DatosEspecificos)
	}
	return t
}

// RunStateModel persists models.SourceRunState, one row per source.
type RunStateModel struct {
	Source    string         `gorm:"primaryKey;column:source"`
	State     datatypes.JSON `gorm:"column:state"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (RunStateModel) TableName() string {
	return "source_run_states"
}
