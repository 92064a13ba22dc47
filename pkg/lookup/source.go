package lookup

import (
	"context"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
	"gorm.io/gorm"
)

type CodeModel struct {
	ID          uint   `gorm:"primaryKey"`
	CUI         string `gorm:"column:cui;index;not null"`
	Code        string `gorm:"column:code;not null"`
	SAB         string `gorm:"column:sab;index;not null"`
	Description string `gorm:"column:description"`
}

func (CodeModel) TableName() string {
	return "concept_codes"
}

// PostgresSource is the authoritative relational code table.
type PostgresSource struct {
	db *gorm.DB
}

func NewPostgresSource(db *gorm.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) AutoMigrate() error {
	return s.db.AutoMigrate(&CodeModel{})
}

func (s *PostgresSource) Codes(ctx context.Context, cui string) ([]models.CodeEntry, error) {
	var rows []CodeModel
	if err := s.db.WithContext(ctx).Where("cui = ?", cui).Order("sab, code").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.CodeEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.CodeEntry{System: row.SAB, Code: row.Code, Description: row.Description})
	}
	return out, nil
}

// Replace swaps the stored codes of one concept.
func (s *PostgresSource) Replace(ctx context.Context, cui string, codes []models.CodeEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cui = ?", cui).Delete(&CodeModel{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		rows := make([]CodeModel, 0, len(codes))
		for _, c := range codes {
			rows = append(rows, CodeModel{CUI: cui, Code: c.Code, SAB: c.System, Description: c.Description})
		}
		return tx.Create(&rows).Error
	})
}

// CatalogSource serves codes straight from a terminology catalog.
type CatalogSource struct {
	catalog *terminology.Catalog
}

func NewCatalogSource(catalog *terminology.Catalog) *CatalogSource {
	return &CatalogSource{catalog: catalog}
}

func (s *CatalogSource) Codes(_ context.Context, cui string) ([]models.CodeEntry, error) {
	return s.catalog.CodeEntries(cui, nil), nil
}
