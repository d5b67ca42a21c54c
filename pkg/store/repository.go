package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the canonical tender store. It satisfies dedup.Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&TenderModel{}, &RunStateModel{})
}

// InsertIfAbsent inserts the tender unless a row with the same identity hash
// exists. The conflict is resolved by the unique index, so concurrent
// writers cannot both insert.
func (r *Repository) InsertIfAbsent(ctx context.Context, t *models.Tender) (bool, error) {
	m := toModel(t)
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_hash"}},
			DoNothing: true,
		}).
		Create(m)
	if result.Error != nil {
		return false, classify(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateExisting fills the stored row with every non-empty field of t that
// differs from what is stored. Empty incoming fields never erase data.
func (r *Repository) UpdateExisting(ctx context.Context, t *models.Tender) (bool, error) {
	var existing TenderModel
	err := r.db.WithContext(ctx).First(&existing, "identity_hash = ?", t.IdentityHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	updates := diffUpdates(&existing, toModel(t))
	if len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).Model(&TenderModel{}).
		Where("identity_hash = ?", t.IdentityHash).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func diffUpdates(old, incoming *TenderModel) map[string]interface{} {
	updates := map[string]interface{}{}
	setString := func(col, prev, next string) {
		if next != "" && next != prev {
			updates[col] = next
		}
	}
	setTime := func(col string, prev, next *time.Time) {
		if next != nil && (prev == nil || !prev.Equal(*next)) {
			updates[col] = *next
		}
	}

	setString("titulo", old.Titulo, incoming.Titulo)
	setString("descripcion", old.Descripcion, incoming.Descripcion)
	setString("unidad_compradora", old.UnidadCompradora, incoming.UnidadCompradora)
	setString("tipo_procedimiento", old.TipoProcedimiento, incoming.TipoProcedimiento)
	setString("tipo_contratacion", old.TipoContratacion, incoming.TipoContratacion)
	if incoming.Estado != string(models.EstadoDesconocido) {
		setString("estado", old.Estado, incoming.Estado)
	}
	setString("moneda", old.Moneda, incoming.Moneda)
	setString("proveedor_ganador", old.ProveedorGanador, incoming.ProveedorGanador)
	setString("caracter", old.Caracter, incoming.Caracter)
	setString("uuid_procedimiento", old.UUIDProcedimiento, incoming.UUIDProcedimiento)
	setString("entidad_federativa", old.EntidadFederativa, incoming.EntidadFederativa)
	setString("municipio", old.Municipio, incoming.Municipio)
	setString("url_original", old.URLOriginal, incoming.URLOriginal)

	setTime("fecha_publicacion", old.FechaPublicacion, incoming.FechaPublicacion)
	setTime("fecha_apertura", old.FechaApertura, incoming.FechaApertura)
	setTime("fecha_fallo", old.FechaFallo, incoming.FechaFallo)
	setTime("fecha_junta_aclaraciones", old.FechaJuntaAclaraciones, incoming.FechaJuntaAclaraciones)

	if incoming.MontoEstimado != nil && (old.MontoEstimado == nil || *old.MontoEstimado != *incoming.MontoEstimado) {
		updates["monto_estimado"] = *incoming.MontoEstimado
	}

	if len(updates) > 0 {
		updates["fecha_captura"] = incoming.FechaCaptura
		if len(incoming.DatosOriginales) > 0 {
			updates["datos_originales"] = incoming.DatosOriginales
		}
		if len(incoming.DatosEspecificos) > 0 {
			merged := datatypes.JSONMap{}
			for k, v := range old.DatosEspecificos {
				merged[k] = v
			}
			for k, v := range incoming.DatosEspecificos {
				merged[k] = v
			}
			updates["datos_especificos"] = merged
		}
	}
	return updates
}

func (r *Repository) Get(ctx context.Context, identityHash string) (*models.Tender, error) {
	var m TenderModel
	result := r.db.WithContext(ctx).First(&m, "identity_hash = ?", identityHash)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return m.toTender(), nil
}

// Filter narrows List. Zero values mean no restriction.
type Filter struct {
	Fuente string
	Estado models.Estado
	Since  *time.Time
	Limit  int
}

func (r *Repository) List(ctx context.Context, f Filter) ([]*models.Tender, error) {
	q := r.db.WithContext(ctx).Model(&TenderModel{})
	if f.Fuente != "" {
		q = q.Where("fuente = ?", f.Fuente)
	}
	if f.Estado != "" {
		q = q.Where("estado = ?", string(f.Estado))
	}
	if f.Since != nil {
		q = q.Where("fecha_publicacion >= ?", *f.Since)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var rows []TenderModel
	if err := q.Order("fecha_publicacion DESC NULLS LAST").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing tenders: %w", err)
	}
	out := make([]*models.Tender, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toTender())
	}
	return out, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&TenderModel{}).Count(&n).Error
	return n, err
}

// CountBySource returns the number of stored tenders per fuente.
func (r *Repository) CountBySource(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Fuente string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&TenderModel{}).
		Select("fuente, COUNT(*) AS total").
		Group("fuente").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Fuente] = row.Total
	}
	return out, nil
}
