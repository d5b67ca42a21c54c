package normalizer

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/terminology"
)

var errMissingIdentity = errors.New("record lacks numero_procedimiento or entidad_compradora")

// fieldAliases lists, per canonical field, the column names sources use for
// it, already in normalized (lower_snake) form. The first non-empty wins.
var fieldAliases = map[string][]string{
	"numero_procedimiento": {
		"numero_procedimiento", "numero_de_procedimiento", "numero_del_procedimiento",
		"num_procedimiento", "no_procedimiento", "no_de_procedimiento", "codigo_procedimiento",
		"numero_procedimiento_contratacion", "numero_licitacion", "numero_de_licitacion",
		"no_licitacion", "no_de_licitacion",
	},
	"entidad_compradora": {
		"entidad_compradora", "entidad_compradora_nombre", "dependencia", "dependencia_nombre",
		"dependencia_o_entidad", "dependencia_entidad", "institucion", "institucion_nombre",
		"nombre_de_la_institucion", "nombre_institucion", "ente_publico", "comprador",
	},
	"titulo": {
		"titulo", "titulo_expediente", "titulo_del_expediente", "nombre_procedimiento",
		"nombre_del_procedimiento", "objeto", "objeto_de_la_licitacion", "objeto_contratacion",
	},
	"descripcion": {
		"descripcion", "descripcion_expediente", "descripcion_del_expediente",
		"descripcion_detallada", "descripcion_del_contrato", "descripcion_procedimiento",
	},
	"unidad_compradora": {
		"unidad_compradora", "unidad_compradora_nombre", "nombre_de_la_uc", "nombre_uc",
		"unidad_contratante", "area_contratante", "uc_nombre",
	},
	"tipo_procedimiento": {
		"tipo_procedimiento", "tipo_de_procedimiento", "procedimiento_tipo",
	},
	"tipo_contratacion": {
		"tipo_contratacion", "tipo_de_contratacion", "materia", "tipo_de_contrato",
	},
	"estado": {
		"estatus", "estado", "status", "estatus_expediente", "estado_expediente",
		"estatus_del_procedimiento", "estatus_procedimiento", "situacion",
	},
	"fecha_publicacion": {
		"fecha_publicacion", "fecha_de_publicacion", "fecha_publicacion_convocatoria",
		"fecha_de_publicacion_de_la_convocatoria",
	},
	"fecha_apertura": {
		"fecha_apertura", "fecha_de_apertura", "fecha_apertura_proposiciones",
		"fecha_de_apertura_de_proposiciones", "fecha_presentacion_proposiciones",
		"fecha_de_presentacion_y_apertura",
	},
	"fecha_fallo": {
		"fecha_fallo", "fecha_de_fallo", "fecha_emision_fallo", "fecha_del_fallo",
	},
	"fecha_junta_aclaraciones": {
		"fecha_junta_aclaraciones", "fecha_de_junta_de_aclaraciones", "fecha_junta",
		"fecha_junta_de_aclaraciones",
	},
	"monto_estimado": {
		"monto_estimado", "monto", "importe", "importe_estimado", "importe_del_contrato",
		"monto_total", "presupuesto", "monto_sin_iva",
	},
	"moneda": {
		"moneda", "divisa", "moneda_del_contrato",
	},
	"proveedor_ganador": {
		"proveedor_ganador", "proveedor_adjudicado", "proveedor", "proveedor_nombre",
		"proveedor_o_contratista", "ganador", "razon_social_proveedor",
	},
	"caracter": {
		"caracter", "caracter_procedimiento", "caracter_del_procedimiento",
	},
	"uuid_procedimiento": {
		"uuid_procedimiento", "uuid", "id_procedimiento_uuid",
	},
	"entidad_federativa": {
		"entidad_federativa", "estado_republica", "entidad_federativa_nombre",
	},
	"municipio": {
		"municipio", "alcaldia", "municipio_alcaldia",
	},
	"url_original": {
		"url_original", "url", "url_procedimiento", "liga", "enlace", "direccion_del_anuncio",
	},
}

var aliasOwner = func() map[string]string {
	owner := make(map[string]string)
	for field, aliases := range fieldAliases {
		for _, a := range aliases {
			owner[a] = field
		}
	}
	return owner
}()

// Transformer maps flat records, JSON objects or CSV rows, onto tenders.
type Transformer struct {
	vocab terminology.Catalog
	loc   *time.Location
}

func NewTransformer(vocab terminology.Catalog, loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{vocab: vocab, loc: loc}
}

// Transform builds a tender from a record whose keys are already normalized
// with columnKey. Columns no canonical field claims go to datos_especificos.
func (t *Transformer) Transform(a Artifact, record map[string]string, original json.RawMessage) (*models.Tender, error) {
	get := func(field string) string {
		for _, alias := range fieldAliases[field] {
			if v := cleanText(record[alias]); v != "" {
				return v
			}
		}
		return ""
	}

	tender := &models.Tender{
		NumeroProcedimiento: get("numero_procedimiento"),
		EntidadCompradora:   get("entidad_compradora"),
		Fuente:              a.Source,
		Titulo:              get("titulo"),
		Descripcion:         get("descripcion"),
		UnidadCompradora:    get("unidad_compradora"),
		TipoProcedimiento:   get("tipo_procedimiento"),
		TipoContratacion:    get("tipo_contratacion"),
		ProveedorGanador:    get("proveedor_ganador"),
		Caracter:            get("caracter"),
		UUIDProcedimiento:   get("uuid_procedimiento"),
		EntidadFederativa:   get("entidad_federativa"),
		Municipio:           get("municipio"),
		URLOriginal:         get("url_original"),
		FechaCaptura:        a.ModTime.UTC(),
		DatosOriginales:     original,

		FechaPublicacion:       ParseDate(get("fecha_publicacion"), t.loc),
		FechaApertura:          ParseDate(get("fecha_apertura"), t.loc),
		FechaFallo:             ParseDate(get("fecha_fallo"), t.loc),
		FechaJuntaAclaraciones: ParseDate(get("fecha_junta_aclaraciones"), t.loc),
	}
	if tender.NumeroProcedimiento == "" || tender.EntidadCompradora == "" {
		return nil, errMissingIdentity
	}

	amount := get("monto_estimado")
	tender.MontoEstimado = ParseMoney(amount)
	tender.Moneda = normalizeCurrency(get("moneda"))
	if tender.Moneda == "" && tender.MontoEstimado != nil {
		tender.Moneda = DetectCurrency(amount)
	}
	classify(tender, t.vocab, get("estado"))

	for key, value := range record {
		if _, claimed := aliasOwner[key]; claimed {
			continue
		}
		setSpecific(tender, key, cleanText(value))
	}
	return tender, nil
}

// columnKey normalizes a column or JSON key: accents stripped, lower case,
// non-alphanumerics collapsed to single underscores.
func columnKey(s string) string {
	f := fold(s)
	var b strings.Builder
	underscore := false
	for _, r := range f {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// flatten turns a decoded JSON object into a normalized flat record. Nested
// objects are joined with underscores; arrays are left to datos_originales.
func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := columnKey(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
		case bool:
			if val {
				out[key] = "true"
			} else {
				out[key] = "false"
			}
		default:
			if s := getString(val); s != "" {
				if _, taken := out[key]; !taken {
					out[key] = s
				}
			}
		}
	}
}
