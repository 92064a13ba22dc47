package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"gopkg.in/yaml.v3"
)

type Code struct {
	System      string `yaml:"system" json:"system"`
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
}

type Concept struct {
	CUI        string   `yaml:"cui" json:"cui"`
	Term       string   `yaml:"term" json:"term"`
	Synonyms   []string `yaml:"synonyms" json:"synonyms,omitempty"`
	Categories []string `yaml:"categories" json:"categories"`
	Codes      []Code   `yaml:"codes" json:"codes,omitempty"`
}

// Strings returns the preferred term followed by its synonyms.
func (c Concept) Strings() []string {
	out := make([]string, 0, len(c.Synonyms)+1)
	out = append(out, c.Term)
	out = append(out, c.Synonyms...)
	return out
}

type Catalog struct {
	Concepts []Concept         `yaml:"concepts" json:"concepts"`
	Aliases  map[string]string `yaml:"aliases" json:"aliases,omitempty"`

	byCUI map[string]int
}

func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

func Parse(content []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, err
	}
	if len(cat.Concepts) == 0 {
		return nil, fmt.Errorf("terminology catalog empty")
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) index() error {
	c.byCUI = make(map[string]int, len(c.Concepts))
	for i, concept := range c.Concepts {
		if concept.CUI == "" || strings.TrimSpace(concept.Term) == "" {
			return fmt.Errorf("catalog entry %d: cui and term are required", i)
		}
		if _, dup := c.byCUI[concept.CUI]; dup {
			return fmt.Errorf("catalog entry %d: duplicate cui %s", i, concept.CUI)
		}
		c.byCUI[concept.CUI] = i
	}
	return nil
}

func (c *Catalog) Lookup(cui string) (Concept, bool) {
	if c == nil || c.byCUI == nil {
		return Concept{}, false
	}
	idx, ok := c.byCUI[cui]
	if !ok {
		return Concept{}, false
	}
	return c.Concepts[idx], true
}

// CodeEntries returns the concept's codes restricted to systems (all when
// systems is empty).
func (c *Catalog) CodeEntries(cui string, systems []string) []models.CodeEntry {
	concept, ok := c.Lookup(cui)
	if !ok {
		return nil
	}
	allowed := make(map[string]struct{}, len(systems))
	for _, s := range systems {
		allowed[s] = struct{}{}
	}
	var out []models.CodeEntry
	for _, code := range concept.Codes {
		if len(allowed) > 0 {
			if _, ok := allowed[code.System]; !ok {
				continue
			}
		}
		out = append(out, models.CodeEntry{System: code.System, Code: code.Code, Description: code.Description})
	}
	return out
}

// CUIs returns every concept identifier in sorted order.
func (c *Catalog) CUIs() []string {
	out := make([]string, 0, len(c.Concepts))
	for _, concept := range c.Concepts {
		out = append(out, concept.CUI)
	}
	sort.Strings(out)
	return out
}

func DefaultCatalog() *Catalog {
	cat := &Catalog{
		Concepts: defaultConcepts(),
		Aliases: map[string]string{
			// noninsulin-dependent diabetes mellitus 2 (OMIM flavour)
			"C1832387": "C0011860",
		},
	}
	if err := cat.index(); err != nil {
		panic(err)
	}
	return cat
}

func icd(code, desc string) Code    { return Code{System: "ICD10CM", Code: code, Description: desc} }
func snomed(code, desc string) Code { return Code{System: "SNOMEDCT_US", Code: code, Description: desc} }
func rxnorm(code, desc string) Code { return Code{System: "RXNORM", Code: code, Description: desc} }

func defaultConcepts() []Concept {
	return []Concept{
		{CUI: "C0011849", Term: "Diabetes Mellitus", Synonyms: []string{"diabetes", "DM"}, Categories: []string{"T047"},
			Codes: []Code{icd("E11.9", "Type 2 diabetes mellitus without complications"), snomed("73211009", "Diabetes mellitus")}},
		{CUI: "C0011860", Term: "Type 2 diabetes mellitus", Synonyms: []string{"type 2 diabetes", "T2DM", "NIDDM"}, Categories: []string{"T047"},
			Codes: []Code{icd("E11.9", "Type 2 diabetes mellitus without complications"), snomed("44054006", "Diabetes mellitus type 2")}},
		{CUI: "C1832387", Term: "Noninsulin-dependent diabetes mellitus 2", Synonyms: []string{"NIDDM 2"}, Categories: []string{"T047"}},
		{CUI: "C0020538", Term: "Hypertensive disease", Synonyms: []string{"hypertension", "high blood pressure", "HTN"}, Categories: []string{"T047"},
			Codes: []Code{icd("I10", "Essential (primary) hypertension"), snomed("38341003", "Hypertensive disorder")}},
		{CUI: "C0085580", Term: "Essential hypertension", Synonyms: []string{"primary hypertension"}, Categories: []string{"T047"},
			Codes: []Code{icd("I10", "Essential (primary) hypertension"), snomed("59621000", "Essential hypertension")}},
		{CUI: "C0015967", Term: "Fever", Synonyms: []string{"pyrexia", "febrile"}, Categories: []string{"T184"},
			Codes: []Code{icd("R50.9", "Fever, unspecified"), snomed("386661006", "Fever")}},
		{CUI: "C0010200", Term: "Coughing", Synonyms: []string{"cough"}, Categories: []string{"T184"},
			Codes: []Code{icd("R05.9", "Cough, unspecified"), snomed("49727002", "Cough")}},
		{CUI: "C0008031", Term: "Chest Pain", Synonyms: []string{"thoracic pain"}, Categories: []string{"T184"},
			Codes: []Code{icd("R07.9", "Chest pain, unspecified"), snomed("29857009", "Chest pain")}},
		{CUI: "C0032285", Term: "Pneumonia", Categories: []string{"T047"},
			Codes: []Code{icd("J18.9", "Pneumonia, unspecified organism"), snomed("233604007", "Pneumonia")}},
		{CUI: "C0018681", Term: "Headache", Synonyms: []string{"cephalalgia"}, Categories: []string{"T184"},
			Codes: []Code{icd("R51.9", "Headache, unspecified"), snomed("25064002", "Headache")}},
		{CUI: "C0004096", Term: "Asthma", Categories: []string{"T047"},
			Codes: []Code{icd("J45.909", "Unspecified asthma, uncomplicated"), snomed("195967001", "Asthma")}},
		{CUI: "C0027051", Term: "Myocardial Infarction", Synonyms: []string{"heart attack", "MI"}, Categories: []string{"T047"},
			Codes: []Code{icd("I21.9", "Acute myocardial infarction, unspecified"), snomed("22298006", "Myocardial infarction")}},
		{CUI: "C0024117", Term: "Chronic Obstructive Airway Disease", Synonyms: []string{"COPD", "chronic obstructive pulmonary disease"}, Categories: []string{"T047"},
			Codes: []Code{icd("J44.9", "Chronic obstructive pulmonary disease, unspecified"), snomed("13645005", "Chronic obstructive lung disease")}},
		{CUI: "C0018802", Term: "Congestive heart failure", Synonyms: []string{"heart failure", "CHF"}, Categories: []string{"T047"},
			Codes: []Code{icd("I50.9", "Heart failure, unspecified"), snomed("42343007", "Congestive heart failure")}},
		{CUI: "C0035078", Term: "Kidney Failure", Synonyms: []string{"renal failure"}, Categories: []string{"T047"},
			Codes: []Code{icd("N19", "Unspecified kidney failure"), snomed("42399005", "Renal failure syndrome")}},
		{CUI: "C0003873", Term: "Rheumatoid Arthritis", Categories: []string{"T047"},
			Codes: []Code{icd("M06.9", "Rheumatoid arthritis, unspecified"), snomed("69896004", "Rheumatoid arthritis")}},
		{CUI: "C0009443", Term: "Common Cold", Synonyms: []string{"head cold"}, Categories: []string{"T047"},
			Codes: []Code{icd("J00", "Acute nasopharyngitis [common cold]"), snomed("82272006", "Common cold")}},
		{CUI: "C0013404", Term: "Dyspnea", Synonyms: []string{"shortness of breath", "breathlessness", "SOB"}, Categories: []string{"T184"},
			Codes: []Code{icd("R06.00", "Dyspnea, unspecified"), snomed("267036007", "Dyspnea")}},
		{CUI: "C0027497", Term: "Nausea", Categories: []string{"T184"},
			Codes: []Code{icd("R11.0", "Nausea"), snomed("422587007", "Nausea")}},
		{CUI: "C0042963", Term: "Vomiting", Synonyms: []string{"emesis"}, Categories: []string{"T184"},
			Codes: []Code{icd("R11.10", "Vomiting, unspecified"), snomed("422400008", "Vomiting")}},
		{CUI: "C0011175", Term: "Dehydration", Categories: []string{"T047"},
			Codes: []Code{icd("E86.0", "Dehydration"), snomed("34095006", "Dehydration")}},
		{CUI: "C0039231", Term: "Tachycardia", Categories: []string{"T033"},
			Codes: []Code{icd("R00.0", "Tachycardia, unspecified"), snomed("3424008", "Tachycardia")}},
		{CUI: "C0008350", Term: "Cholecystectomy", Categories: []string{"T061"},
			Codes: []Code{{System: "ICD10PCS", Code: "0FT44ZZ", Description: "Resection of Gallbladder, Percutaneous Endoscopic Approach"}, snomed("38102005", "Cholecystectomy")}},
		{CUI: "C0025598", Term: "Metformin", Categories: []string{"T121"},
			Codes: []Code{rxnorm("6809", "metformin"), snomed("372567009", "Metformin")}},
		{CUI: "C0004057", Term: "Aspirin", Synonyms: []string{"acetylsalicylic acid", "ASA"}, Categories: []string{"T121"},
			Codes: []Code{rxnorm("1191", "aspirin"), snomed("387458008", "Aspirin")}},
		{CUI: "C0030054", Term: "Oxygen", Synonyms: []string{"O2", "supplemental oxygen"}, Categories: []string{"T121", "T196"},
			Codes: []Code{rxnorm("7806", "oxygen"), snomed("24099007", "Oxygen")}},
		{CUI: "C0220870", Term: "Lightheadedness", Synonyms: []string{"light-headed", "lightheaded"}, Categories: []string{"T184"}},
		{CUI: "C0030705", Term: "Patients", Synonyms: []string{"patient"}, Categories: []string{"T101"}},
	}
}
