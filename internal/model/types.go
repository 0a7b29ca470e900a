package model

import "fmt"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// OrganismType is the fixed category set used for stratification and
// curriculum ordering.
type OrganismType string

const (
	Bacteria OrganismType = "bacteria"
	Archaea  OrganismType = "archaea"
	Fungi    OrganismType = "fungi"
	Protist  OrganismType = "protist"
	Virus    OrganismType = "virus"
)

// OrganismTypes lists every recognized type in curriculum priority order,
// most abundant and best characterized first.
var OrganismTypes = []OrganismType{Bacteria, Archaea, Fungi, Protist, Virus}

func ParseOrganismType(s string) (OrganismType, error) {
	for _, t := range OrganismTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown organism type: %q", s)
}

// OrganismTypeFromDomain maps the strain database's single-letter domain
// code to an organism type. Unrecognized codes map to bacteria, the
// dominant population in the upstream catalog.
func OrganismTypeFromDomain(code string) OrganismType {
	switch code {
	case "B":
		return Bacteria
	case "A":
		return Archaea
	case "F":
		return Fungi
	default:
		return Bacteria
	}
}

// Provenance tags which upstream process asserted a growth observation.
type Provenance string

const (
	// ProvenanceDirect marks observations taken from the media database's
	// own strain growth records.
	ProvenanceDirect Provenance = "direct"
	// ProvenanceLiterature marks observations mined from publications.
	ProvenanceLiterature Provenance = "literature"
	// ProvenanceTaxonomy marks observations inferred from organism naming.
	ProvenanceTaxonomy Provenance = "taxonomy"
)

// ProvenanceRank orders provenances by trustworthiness, lower is better.
// Used as the deduplication tie-break when confidences are equal.
func ProvenanceRank(p Provenance) int {
	switch p {
	case ProvenanceDirect:
		return 0
	case ProvenanceLiterature:
		return 1
	case ProvenanceTaxonomy:
		return 2
	default:
		return 3
	}
}

// Organism is one genome record. Immutable after ingest except for the
// strain back-reference set by the linking pass.
type Organism struct {
	VersionedRecord
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      OrganismType `json:"type"`
	TaxID     int64        `json:"tax_id,omitempty"`
	GCContent float64      `json:"gc_content"`
	Length    int64        `json:"length"`
	StrainID  int64        `json:"strain_id,omitempty"`
	// SequencePath locates the FASTA file relative to the genome root.
	SequencePath string `json:"sequence_path,omitempty"`
}

// Strain is a culture-collection record from the strain database.
type Strain struct {
	VersionedRecord
	ID        int64  `json:"id"`
	Species   string `json:"species"`
	CultureNo string `json:"culture_no,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// Ingredient is one entry of the canonical ingredient catalog.
type Ingredient struct {
	VersionedRecord
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	ChEBI     string  `json:"chebi,omitempty"`
	CAS       string  `json:"cas,omitempty"`
	PubChem   string  `json:"pubchem,omitempty"`
	MolarMass float64 `json:"molar_mass,omitempty"`
	Formula   string  `json:"formula,omitempty"`
	Density   float64 `json:"density,omitempty"`
}

// IngredientAmount is one line of a formulation's composition. Grams is
// the g/L concentration when known; Mmol carries mmol/L for entries the
// upstream source reports only in molar terms.
type IngredientAmount struct {
	IngredientID int64   `json:"ingredient_id"`
	Grams        float64 `json:"grams"`
	Mmol         float64 `json:"mmol,omitempty"`
	Optional     bool    `json:"optional,omitempty"`
}

// MediaFormulation is one growth-medium recipe. An ingredient appears at
// most once in Composition; duplicate upstream lines are merged at write.
type MediaFormulation struct {
	VersionedRecord
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Complex     bool               `json:"complex,omitempty"`
	Source      string             `json:"source,omitempty"`
	MinPH       float64            `json:"min_ph,omitempty"`
	MaxPH       float64            `json:"max_ph,omitempty"`
	Composition []IngredientAmount `json:"composition"`
}

// GrowthObservation links one organism to one formulation with a labeled
// outcome. Observations of the same pair from different provenances are
// stored side by side; deduplication is a dataset-build concern.
type GrowthObservation struct {
	VersionedRecord
	OrganismID string     `json:"organism_id"`
	MediaID    string     `json:"media_id"`
	Growth     bool       `json:"growth"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	Quality    string     `json:"quality,omitempty"`
	Rate       float64    `json:"rate,omitempty"`
}

// StrainGrowth is a raw growth record as reported by the strain database,
// keyed by strain rather than organism. The linking pass turns these into
// GrowthObservations once strains are matched to sequenced organisms.
type StrainGrowth struct {
	VersionedRecord
	StrainID int64   `json:"strain_id"`
	MediaID  string  `json:"media_id"`
	Growth   bool    `json:"growth"`
	Quality  string  `json:"quality,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
}

// Embedding is a fixed-length vector derived from one organism's sequence
// under a named method. At most one per (organism, method).
type Embedding struct {
	VersionedRecord
	OrganismID string    `json:"organism_id"`
	Method     string    `json:"method"`
	Dim        int       `json:"dim"`
	Values     []float64 `json:"values"`
}
