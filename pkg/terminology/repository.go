package terminology

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository stores dictionary concepts and identifier aliases in Postgres.
// Codes are not stored here; they belong to the code lookup tables.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type ConceptModel struct {
	CUI        string         `gorm:"column:cui;primaryKey"`
	Term       string         `gorm:"column:term;index"`
	Synonyms   datatypes.JSON `gorm:"column:synonyms;type:jsonb"`
	Categories datatypes.JSON `gorm:"column:categories;type:jsonb"`
	UpdatedAt  time.Time
}

func (ConceptModel) TableName() string {
	return "dictionary_concepts"
}

type AliasModel struct {
	FromCUI string `gorm:"column:from_cui;primaryKey"`
	ToCUI   string `gorm:"column:to_cui;index"`
}

func (AliasModel) TableName() string {
	return "concept_aliases"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ConceptModel{}, &AliasModel{})
}

// Save upserts every concept and alias of the catalog.
func (r *Repository) Save(ctx context.Context, cat *Catalog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, concept := range cat.Concepts {
			row, err := toModel(concept)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for from, to := range cat.Aliases {
			alias := AliasModel{FromCUI: from, ToCUI: to}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&alias).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCatalog reads the dictionary back into a Catalog. The returned
// catalog carries no codes.
func (r *Repository) LoadCatalog(ctx context.Context) (*Catalog, error) {
	var rows []ConceptModel
	if err := r.db.WithContext(ctx).Order("cui").Find(&rows).Error; err != nil {
		return nil, err
	}
	var aliases []AliasModel
	if err := r.db.WithContext(ctx).Find(&aliases).Error; err != nil {
		return nil, err
	}

	cat := &Catalog{Aliases: make(map[string]string, len(aliases))}
	for _, row := range rows {
		concept, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		cat.Concepts = append(cat.Concepts, concept)
	}
	for _, alias := range aliases {
		cat.Aliases[alias.FromCUI] = alias.ToCUI
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return cat, nil
}

func toModel(c Concept) (ConceptModel, error) {
	synonyms, err := json.Marshal(c.Synonyms)
	if err != nil {
		return ConceptModel{}, err
	}
	categories, err := json.Marshal(c.Categories)
	if err != nil {
		return ConceptModel{}, err
	}
	return ConceptModel{
		CUI:        c.CUI,
		Term:       c.Term,
		Synonyms:   datatypes.JSON(synonyms),
		Categories: datatypes.JSON(categories),
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func fromModel(m ConceptModel) (Concept, error) {
	concept := Concept{CUI: m.CUI, Term: m.Term}
	if len(m.Synonyms) > 0 {
		if err := json.Unmarshal(m.Synonyms, &concept.Synonyms); err != nil {
			return Concept{}, err
		}
	}
	if len(m.Categories) > 0 {
		if err := json.Unmarshal(m.Categories, &concept.Categories); err != nil {
			return Concept{}, err
		}
	}
	return concept, nil
}
