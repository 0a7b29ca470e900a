package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"trophos/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveOrganism(ctx context.Context, organism model.Organism) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO organisms (id, schema_version, codec_version, name, type, tax_id, gc_content, length, strain_id, sequence_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			name = excluded.name,
			type = excluded.type,
			tax_id = excluded.tax_id,
			gc_content = excluded.gc_content,
			length = excluded.length,
			strain_id = excluded.strain_id,
			sequence_path = excluded.sequence_path
	`, organism.ID, organism.SchemaVersion, organism.CodecVersion, organism.Name, string(organism.Type),
		organism.TaxID, organism.GCContent, organism.Length, organism.StrainID, organism.SequencePath)
	return err
}

func (s *SQLiteStore) GetOrganism(ctx context.Context, id string) (model.Organism, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Organism{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, schema_version, codec_version, name, type, tax_id, gc_content, length, strain_id, sequence_path
		FROM organisms WHERE id = ?
	`, id)
	organism, err := scanOrganism(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Organism{}, false, nil
		}
		return model.Organism{}, false, err
	}
	return organism, true, nil
}

func (s *SQLiteStore) ListOrganisms(ctx context.Context, typ model.OrganismType) ([]model.Organism, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, schema_version, codec_version, name, type, tax_id, gc_content, length, strain_id, sequence_path
		FROM organisms`
	args := []any{}
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var organisms []model.Organism
	for rows.Next() {
		organism, err := scanOrganism(rows)
		if err != nil {
			return nil, err
		}
		organisms = append(organisms, organism)
	}
	return organisms, rows.Err()
}

func (s *SQLiteStore) SaveStrain(ctx context.Context, strain model.Strain) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO strains (id, schema_version, codec_version, species, culture_no, domain)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			species = excluded.species,
			culture_no = excluded.culture_no,
			domain = excluded.domain
	`, strain.ID, strain.SchemaVersion, strain.CodecVersion, strain.Species, strain.CultureNo, strain.Domain)
	return err
}

func (s *SQLiteStore) GetStrain(ctx context.Context, id int64) (model.Strain, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Strain{}, false, err
	}

	var strain model.Strain
	err = db.QueryRowContext(ctx, `
		SELECT id, schema_version, codec_version, species, culture_no, domain
		FROM strains WHERE id = ?
	`, id).Scan(&strain.ID, &strain.SchemaVersion, &strain.CodecVersion, &strain.Species, &strain.CultureNo, &strain.Domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Strain{}, false, nil
		}
		return model.Strain{}, false, err
	}
	if err := checkVersion(strain.VersionedRecord); err != nil {
		return model.Strain{}, false, fmt.Errorf("strain %d: %w", id, err)
	}
	return strain, true, nil
}

func (s *SQLiteStore) ListStrains(ctx context.Context) ([]model.Strain, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, schema_version, codec_version, species, culture_no, domain
		FROM strains ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strains []model.Strain
	for rows.Next() {
		var strain model.Strain
		if err := rows.Scan(&strain.ID, &strain.SchemaVersion, &strain.CodecVersion, &strain.Species, &strain.CultureNo, &strain.Domain); err != nil {
			return nil, err
		}
		strains = append(strains, strain)
	}
	return strains, rows.Err()
}

func (s *SQLiteStore) SaveIngredient(ctx context.Context, ingredient model.Ingredient) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO ingredients (id, schema_version, codec_version, name, chebi, cas, pubchem, molar_mass, formula, density)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			name = excluded.name,
			chebi = excluded.chebi,
			cas = excluded.cas,
			pubchem = excluded.pubchem,
			molar_mass = excluded.molar_mass,
			formula = excluded.formula,
			density = excluded.density
	`, ingredient.ID, ingredient.SchemaVersion, ingredient.CodecVersion, ingredient.Name, ingredient.ChEBI,
		ingredient.CAS, ingredient.PubChem, ingredient.MolarMass, ingredient.Formula, ingredient.Density)
	return err
}

func (s *SQLiteStore) ListIngredients(ctx context.Context) ([]model.Ingredient, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, schema_version, codec_version, name, chebi, cas, pubchem, molar_mass, formula, density
		FROM ingredients ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ingredients []model.Ingredient
	for rows.Next() {
		var ingredient model.Ingredient
		if err := rows.Scan(&ingredient.ID, &ingredient.SchemaVersion, &ingredient.CodecVersion, &ingredient.Name,
			&ingredient.ChEBI, &ingredient.CAS, &ingredient.PubChem, &ingredient.MolarMass, &ingredient.Formula, &ingredient.Density); err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ingredient)
	}
	return ingredients, rows.Err()
}

func (s *SQLiteStore) SaveMedia(ctx context.Context, media model.MediaFormulation) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeComposition(mergeComposition(media.Composition))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO media (id, schema_version, codec_version, name, complex, source, min_ph, max_ph, composition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			name = excluded.name,
			complex = excluded.complex,
			source = excluded.source,
			min_ph = excluded.min_ph,
			max_ph = excluded.max_ph,
			composition = excluded.composition
	`, media.ID, media.SchemaVersion, media.CodecVersion, media.Name, media.Complex, media.Source,
		media.MinPH, media.MaxPH, payload)
	return err
}

func (s *SQLiteStore) GetMedia(ctx context.Context, id string) (model.MediaFormulation, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.MediaFormulation{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, schema_version, codec_version, name, complex, source, min_ph, max_ph, composition
		FROM media WHERE id = ?
	`, id)
	media, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MediaFormulation{}, false, nil
		}
		return model.MediaFormulation{}, false, err
	}
	return media, true, nil
}

func (s *SQLiteStore) ListMedia(ctx context.Context) ([]model.MediaFormulation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, schema_version, codec_version, name, complex, source, min_ph, max_ph, composition
		FROM media ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []model.MediaFormulation
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func (s *SQLiteStore) SaveObservation(ctx context.Context, obs model.GrowthObservation) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO observations (organism_id, media_id, provenance, schema_version, codec_version, growth, confidence, quality, rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organism_id, media_id, provenance) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			growth = excluded.growth,
			confidence = excluded.confidence,
			quality = excluded.quality,
			rate = excluded.rate
	`, obs.OrganismID, obs.MediaID, string(obs.Provenance), obs.SchemaVersion, obs.CodecVersion,
		obs.Growth, obs.Confidence, obs.Quality, obs.Rate)
	return err
}

func (s *SQLiteStore) ListObservations(ctx context.Context) ([]model.GrowthObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT organism_id, media_id, provenance, schema_version, codec_version, growth, confidence, quality, rate
		FROM observations ORDER BY organism_id, media_id, provenance
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []model.GrowthObservation
	for rows.Next() {
		var obs model.GrowthObservation
		var provenance string
		if err := rows.Scan(&obs.OrganismID, &obs.MediaID, &provenance, &obs.SchemaVersion, &obs.CodecVersion,
			&obs.Growth, &obs.Confidence, &obs.Quality, &obs.Rate); err != nil {
			return nil, err
		}
		obs.Provenance = model.Provenance(provenance)
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func (s *SQLiteStore) SaveStrainGrowth(ctx context.Context, growth model.StrainGrowth) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO strain_growth (strain_id, media_id, schema_version, codec_version, growth, quality, rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strain_id, media_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			growth = excluded.growth,
			quality = excluded.quality,
			rate = excluded.rate
	`, growth.StrainID, growth.MediaID, growth.SchemaVersion, growth.CodecVersion, growth.Growth, growth.Quality, growth.Rate)
	return err
}

func (s *SQLiteStore) ListStrainGrowth(ctx context.Context, strainID int64) ([]model.StrainGrowth, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT strain_id, media_id, schema_version, codec_version, growth, quality, rate
		FROM strain_growth WHERE strain_id = ? ORDER BY media_id
	`, strainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.StrainGrowth
	for rows.Next() {
		var growth model.StrainGrowth
		if err := rows.Scan(&growth.StrainID, &growth.MediaID, &growth.SchemaVersion, &growth.CodecVersion,
			&growth.Growth, &growth.Quality, &growth.Rate); err != nil {
			return nil, err
		}
		records = append(records, growth)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, embedding model.Embedding) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload := EncodeVector(embedding.Values)
	_, err = db.ExecContext(ctx, `
		INSERT INTO embeddings (organism_id, method, schema_version, codec_version, dim, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(organism_id, method) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			dim = excluded.dim,
			payload = excluded.payload
	`, embedding.OrganismID, embedding.Method, embedding.SchemaVersion, embedding.CodecVersion,
		embedding.Dim, payload)
	return err
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, organismID, method string) (model.Embedding, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Embedding{}, false, err
	}

	var embedding model.Embedding
	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT organism_id, method, schema_version, codec_version, dim, payload
		FROM embeddings WHERE organism_id = ? AND method = ?
	`, organismID, method).Scan(&embedding.OrganismID, &embedding.Method, &embedding.SchemaVersion,
		&embedding.CodecVersion, &embedding.Dim, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Embedding{}, false, nil
		}
		return model.Embedding{}, false, err
	}
	if err := checkVersion(embedding.VersionedRecord); err != nil {
		return model.Embedding{}, false, fmt.Errorf("embedding %s/%s: %w", organismID, method, err)
	}

	values, err := DecodeVector(payload)
	if err != nil {
		return model.Embedding{}, false, fmt.Errorf("decode embedding %s/%s: %w", organismID, method, err)
	}
	if len(values) != embedding.Dim {
		return model.Embedding{}, false, fmt.Errorf("embedding %s/%s: payload dim %d, column dim %d", organismID, method, len(values), embedding.Dim)
	}
	embedding.Values = values
	return embedding, true, nil
}

func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, organismID, method string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM embeddings WHERE organism_id = ? AND method = ?`, organismID, method)
	return err
}

func (s *SQLiteStore) MarkTaskDone(ctx context.Context, task string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO ingest_log (task, status, error_message, updated_at)
		VALUES (?, 'done', '', datetime('now'))
		ON CONFLICT(task) DO UPDATE SET
			status = 'done',
			error_message = '',
			updated_at = datetime('now')
	`, task)
	return err
}

func (s *SQLiteStore) MarkTaskError(ctx context.Context, task, message string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO ingest_log (task, status, error_message, updated_at)
		VALUES (?, 'error', ?, datetime('now'))
		ON CONFLICT(task) DO UPDATE SET
			status = 'error',
			error_message = excluded.error_message,
			updated_at = datetime('now')
	`, task, message)
	return err
}

func (s *SQLiteStore) IsTaskDone(ctx context.Context, task string) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	var status string
	err = db.QueryRowContext(ctx, `SELECT status FROM ingest_log WHERE task = ?`, task).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status == "done", nil
}

func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, table := range []string{"organisms", "strains", "ingredients", "media", "observations", "strain_growth", "embeddings"} {
		var n int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganism(row rowScanner) (model.Organism, error) {
	var organism model.Organism
	var typ string
	err := row.Scan(&organism.ID, &organism.SchemaVersion, &organism.CodecVersion, &organism.Name, &typ,
		&organism.TaxID, &organism.GCContent, &organism.Length, &organism.StrainID, &organism.SequencePath)
	if err != nil {
		return model.Organism{}, err
	}
	if err := checkVersion(organism.VersionedRecord); err != nil {
		return model.Organism{}, fmt.Errorf("organism %s: %w", organism.ID, err)
	}
	organism.Type = model.OrganismType(typ)
	return organism, nil
}

func scanMedia(row rowScanner) (model.MediaFormulation, error) {
	var media model.MediaFormulation
	var payload []byte
	err := row.Scan(&media.ID, &media.SchemaVersion, &media.CodecVersion, &media.Name, &media.Complex,
		&media.Source, &media.MinPH, &media.MaxPH, &payload)
	if err != nil {
		return model.MediaFormulation{}, err
	}
	if err := checkVersion(media.VersionedRecord); err != nil {
		return model.MediaFormulation{}, fmt.Errorf("media %s: %w", media.ID, err)
	}
	composition, err := DecodeComposition(payload)
	if err != nil {
		return model.MediaFormulation{}, fmt.Errorf("decode composition %s: %w", media.ID, err)
	}
	media.Composition = composition
	return media, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS organisms (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			tax_id INTEGER NOT NULL DEFAULT 0,
			gc_content REAL NOT NULL DEFAULT 0,
			length INTEGER NOT NULL DEFAULT 0,
			strain_id INTEGER NOT NULL DEFAULT 0,
			sequence_path TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS strains (
			id INTEGER PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			species TEXT NOT NULL DEFAULT '',
			culture_no TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS ingredients (
			id INTEGER PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			name TEXT NOT NULL,
			chebi TEXT NOT NULL DEFAULT '',
			cas TEXT NOT NULL DEFAULT '',
			pubchem TEXT NOT NULL DEFAULT '',
			molar_mass REAL NOT NULL DEFAULT 0,
			formula TEXT NOT NULL DEFAULT '',
			density REAL NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS media (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			name TEXT NOT NULL,
			complex INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			min_ph REAL NOT NULL DEFAULT 0,
			max_ph REAL NOT NULL DEFAULT 0,
			composition BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS observations (
			organism_id TEXT NOT NULL,
			media_id TEXT NOT NULL,
			provenance TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			growth INTEGER NOT NULL,
			confidence REAL NOT NULL,
			quality TEXT NOT NULL DEFAULT '',
			rate REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (organism_id, media_id, provenance)
		);
		CREATE TABLE IF NOT EXISTS strain_growth (
			strain_id INTEGER NOT NULL,
			media_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			growth INTEGER NOT NULL,
			quality TEXT NOT NULL DEFAULT '',
			rate REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (strain_id, media_id)
		);
		CREATE TABLE IF NOT EXISTS embeddings (
			organism_id TEXT NOT NULL,
			method TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			dim INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (organism_id, method)
		);
		CREATE TABLE IF NOT EXISTS ingest_log (
			task TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`)
	return err
}
