package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/dronewatch/internal/evidence"
	"horse.fit/dronewatch/internal/incident"
)

const DefaultNearbyLimit = 50

const incidentColumns = `
	incident_id,
	incident_uuid::text,
	title,
	narrative,
	lat,
	lon,
	occurred_at,
	asset_type,
	country,
	evidence_score,
	has_official_quote,
	verification_status,
	merged_from,
	content_hash,
	member_hashes,
	embedding`

// MergeAudit describes why an incoming incident was folded into an existing one.
type MergeAudit struct {
	MergedContentHash string
	Tier              string
	Similarity        *float64
	Confidence        *float64
	Reasoning         string
}

// NearbyQuery selects dedup neighbors. With a location the search is a bounding box of
// RadiusKm around it; without one it matches on country. Both are limited to
// OccurredAt ± Window.
type NearbyQuery struct {
	Location   *incident.Location
	Country    string
	OccurredAt time.Time
	RadiusKm   float64
	Window     time.Duration
	ExcludeID  int64
	Limit      int
}

// IncidentStore persists consolidated incidents. Creation is idempotent on content_hash
// and merges run under a row lock.
type IncidentStore struct {
	pool *Pool
}

func NewIncidentStore(pool *Pool) *IncidentStore {
	return &IncidentStore{pool: pool}
}

// FindByContentHash returns the incident whose content hash or member hashes contain
// hash, or ErrNoRows.
func (s *IncidentStore) FindByContentHash(ctx context.Context, hash string) (incident.Consolidated, error) {
	q := `SELECT` + incidentColumns + `
FROM dronewatch.incidents
WHERE content_hash = $1
   OR EXISTS (
	SELECT 1
	FROM jsonb_array_elements_text(member_hashes) AS member(hash)
	WHERE member.hash = $1
   )
ORDER BY (content_hash = $1) DESC, incident_id
LIMIT 1
`
	found, err := scanIncident(s.pool.QueryRow(ctx, q, strings.TrimSpace(hash)))
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return incident.Consolidated{}, ErrNoRows
		}
		return incident.Consolidated{}, fmt.Errorf("find incident by hash: %w", err)
	}
	if found.Sources, err = loadSources(ctx, s.pool, found.ID); err != nil {
		return incident.Consolidated{}, err
	}
	return found, nil
}

func (s *IncidentStore) FindNearby(ctx context.Context, nq NearbyQuery) ([]incident.Consolidated, error) {
	if nq.Limit <= 0 {
		nq.Limit = DefaultNearbyLimit
	}
	from := nq.OccurredAt.Add(-nq.Window).UTC()
	to := nq.OccurredAt.Add(nq.Window).UTC()

	var (
		rows *Rows
		err  error
	)
	if nq.Location != nil {
		dLat, dLon := incident.DegreesForKm(nq.RadiusKm, nq.Location.Lat)
		q := `SELECT` + incidentColumns + `
FROM dronewatch.incidents
WHERE occurred_at BETWEEN $1 AND $2
  AND lat BETWEEN $3 AND $4
  AND lon BETWEEN $5 AND $6
  AND incident_id <> $7
ORDER BY occurred_at DESC, incident_id DESC
LIMIT $8
`
		rows, err = s.pool.Query(ctx, q, from, to,
			nq.Location.Lat-dLat, nq.Location.Lat+dLat,
			nq.Location.Lon-dLon, nq.Location.Lon+dLon,
			nq.ExcludeID, nq.Limit)
	} else {
		country := strings.ToUpper(strings.TrimSpace(nq.Country))
		if country == "" {
			return nil, nil
		}
		q := `SELECT` + incidentColumns + `
FROM dronewatch.incidents
WHERE occurred_at BETWEEN $1 AND $2
  AND upper(country) = $3
  AND incident_id <> $4
ORDER BY occurred_at DESC, incident_id DESC
LIMIT $5
`
		rows, err = s.pool.Query(ctx, q, from, to, country, nq.ExcludeID, nq.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query nearby incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.Consolidated
	for rows.Next() {
		found, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nearby incident: %w", err)
		}
		out = append(out, found)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearby incidents: %w", err)
	}
	rows.Close()

	for i := range out {
		if out[i].Sources, err = loadSources(ctx, s.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Upsert inserts c unless an incident with the same content hash exists. It returns the
// row id and whether this call created it.
func (s *IncidentStore) Upsert(ctx context.Context, c incident.Consolidated) (int64, bool, error) {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	memberHashes, embedding, err := encodeJSON(c)
	if err != nil {
		return 0, false, err
	}
	lat, lon := latLon(c.Location)

	const insert = `
INSERT INTO dronewatch.incidents (
	title,
	narrative,
	lat,
	lon,
	occurred_at,
	asset_type,
	country,
	evidence_score,
	has_official_quote,
	verification_status,
	merged_from,
	content_hash,
	member_hashes,
	embedding
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb)
ON CONFLICT (content_hash) DO NOTHING
RETURNING incident_id
`
	var id int64
	err = tx.QueryRow(ctx, insert,
		c.Title, c.Narrative, lat, lon, c.OccurredAt.UTC(), string(assetOrOther(c.AssetType)),
		strings.ToUpper(c.Country), c.EvidenceScore, c.HasOfficialQuote, string(statusOrPending(c.VerificationStatus)),
		max(c.MergedFrom, 1), c.ContentHash, memberHashes, embedding,
	).Scan(&id)
	switch {
	case errors.Is(err, ErrNoRows):
		const existing = `SELECT incident_id FROM dronewatch.incidents WHERE content_hash = $1`
		if err := tx.QueryRow(ctx, existing, c.ContentHash).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("read conflicting incident: %w", err)
		}
		return id, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("insert incident: %w", translateError(err))
	}

	kept, err := replaceSources(ctx, tx, id, c.Sources)
	if err != nil {
		return 0, false, err
	}
	if reconciled, changed := reconcileSources(c, kept); changed {
		const rescore = `
UPDATE dronewatch.incidents
SET evidence_score = $2, verification_status = $3
WHERE incident_id = $1
`
		if _, err := tx.Exec(ctx, rescore, id, reconciled.EvidenceScore, string(statusOrPending(reconciled.VerificationStatus))); err != nil {
			return 0, false, fmt.Errorf("rescore incident: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit incident: %w", err)
	}
	return id, true, nil
}

// Merge locks incident id, applies fn to its current state and writes the result with an
// audit row, all in one transaction.
func (s *IncidentStore) Merge(ctx context.Context, id int64, fn func(existing incident.Consolidated) incident.Consolidated, audit MergeAudit) (incident.Consolidated, error) {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return incident.Consolidated{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	lock := `SELECT` + incidentColumns + `
FROM dronewatch.incidents
WHERE incident_id = $1
FOR UPDATE
`
	existing, err := scanIncident(tx.QueryRow(ctx, lock, id))
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return incident.Consolidated{}, ErrNoRows
		}
		return incident.Consolidated{}, fmt.Errorf("lock incident: %w", err)
	}
	if existing.Sources, err = loadSources(ctx, tx, id); err != nil {
		return incident.Consolidated{}, err
	}

	merged := fn(existing)
	merged.ID, merged.UUID, merged.ContentHash = existing.ID, existing.UUID, existing.ContentHash

	kept, err := replaceSources(ctx, tx, id, merged.Sources)
	if err != nil {
		return incident.Consolidated{}, err
	}
	merged, _ = reconcileSources(merged, kept)

	memberHashes, embedding, err := encodeJSON(merged)
	if err != nil {
		return incident.Consolidated{}, err
	}
	lat, lon := latLon(merged.Location)

	const update = `
UPDATE dronewatch.incidents
SET
	title = $2,
	narrative = $3,
	lat = $4,
	lon = $5,
	occurred_at = $6,
	asset_type = $7,
	country = $8,
	evidence_score = $9,
	has_official_quote = $10,
	verification_status = $11,
	merged_from = $12,
	member_hashes = $13::jsonb,
	embedding = $14::jsonb,
	updated_at = now()
WHERE incident_id = $1
`
	if _, err := tx.Exec(ctx, update, id,
		merged.Title, merged.Narrative, lat, lon, merged.OccurredAt.UTC(), string(assetOrOther(merged.AssetType)),
		strings.ToUpper(merged.Country), merged.EvidenceScore, merged.HasOfficialQuote,
		string(statusOrPending(merged.VerificationStatus)), max(merged.MergedFrom, 1), memberHashes, embedding,
	); err != nil {
		return incident.Consolidated{}, fmt.Errorf("update merged incident: %w", err)
	}

	const auditInsert = `
INSERT INTO dronewatch.incident_merges (
	incident_id,
	merged_content_hash,
	tier,
	similarity,
	confidence,
	reasoning,
	evidence_before,
	evidence_after
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	var reasoning *string
	if trimmed := strings.TrimSpace(audit.Reasoning); trimmed != "" {
		reasoning = &trimmed
	}
	if _, err := tx.Exec(ctx, auditInsert, id, audit.MergedContentHash, audit.Tier,
		audit.Similarity, audit.Confidence, reasoning, existing.EvidenceScore, merged.EvidenceScore,
	); err != nil {
		return incident.Consolidated{}, fmt.Errorf("insert merge audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return incident.Consolidated{}, fmt.Errorf("commit merge: %w", err)
	}
	return merged, nil
}

func (s *IncidentStore) SaveEmbedding(ctx context.Context, id int64, vector []float64) error {
	if len(vector) == 0 {
		return nil
	}
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE dronewatch.incidents SET embedding = $2::jsonb WHERE incident_id = $1`, id, string(payload))
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// replaceSources rewrites the source rows of one incident and returns the sources that
// were stored. A URL already attached to a different incident is skipped rather than
// stolen.
func replaceSources(ctx context.Context, q Querier, incidentID int64, sources []incident.Source) ([]incident.Source, error) {
	if _, err := q.Exec(ctx, `DELETE FROM dronewatch.incident_sources WHERE incident_id = $1`, incidentID); err != nil {
		return nil, fmt.Errorf("clear incident sources: %w", err)
	}

	const insert = `
INSERT INTO dronewatch.incident_sources (
	incident_id,
	source_url,
	source_name,
	source_type,
	trust_weight,
	quote,
	published_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_url) WHERE source_url <> '' DO NOTHING
`
	kept := make([]incident.Source, 0, len(sources))
	for _, source := range sources {
		var published *time.Time
		if source.PublishedAt != nil {
			utc := source.PublishedAt.UTC()
			published = &utc
		}
		tag, err := q.Exec(ctx, insert, incidentID, strings.TrimSpace(source.URL), source.Name,
			string(source.Type), source.TrustWeight, source.Quote, published,
		)
		if err != nil {
			return nil, fmt.Errorf("insert incident source %q: %w", source.Name, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		kept = append(kept, source)
	}
	return kept, nil
}

// reconcileSources narrows c to the sources that were actually stored and re-derives the
// evidence score from them. Manually set verification states are left alone.
func reconcileSources(c incident.Consolidated, kept []incident.Source) (incident.Consolidated, bool) {
	if len(kept) == len(c.Sources) {
		return c, false
	}
	c.Sources = kept
	c.EvidenceScore = evidence.Score(kept, c.HasOfficialQuote)
	switch c.VerificationStatus {
	case incident.StatusVerified, incident.StatusRejected:
	default:
		c.VerificationStatus = incident.StatusForScore(c.EvidenceScore)
	}
	return c, true
}

func loadSources(ctx context.Context, q Querier, incidentID int64) ([]incident.Source, error) {
	const query = `
SELECT source_url, source_name, source_type, trust_weight, quote, published_at
FROM dronewatch.incident_sources
WHERE incident_id = $1
ORDER BY trust_weight DESC, lower(source_name), incident_source_id
`
	rows, err := q.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query incident sources: %w", err)
	}
	defer rows.Close()

	var out []incident.Source
	for rows.Next() {
		var (
			source      incident.Source
			sourceType  string
			quote       sql.NullString
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&source.URL, &source.Name, &sourceType, &source.TrustWeight, &quote, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan incident source: %w", err)
		}
		source.Type = incident.SourceType(sourceType)
		if quote.Valid {
			value := quote.String
			source.Quote = &value
		}
		if publishedAt.Valid {
			value := publishedAt.Time.UTC()
			source.PublishedAt = &value
		}
		out = append(out, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident sources: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (incident.Consolidated, error) {
	var (
		out          incident.Consolidated
		lat, lon     sql.NullFloat64
		assetType    string
		status       string
		memberHashes []byte
		embedding    []byte
	)
	if err := row.Scan(
		&out.ID,
		&out.UUID,
		&out.Title,
		&out.Narrative,
		&lat,
		&lon,
		&out.OccurredAt,
		&assetType,
		&out.Country,
		&out.EvidenceScore,
		&out.HasOfficialQuote,
		&status,
		&out.MergedFrom,
		&out.ContentHash,
		&memberHashes,
		&embedding,
	); err != nil {
		return incident.Consolidated{}, err
	}
	out.OccurredAt = out.OccurredAt.UTC()
	out.AssetType = incident.AssetType(assetType)
	out.VerificationStatus = incident.VerificationStatus(status)
	if lat.Valid && lon.Valid {
		out.Location = &incident.Location{Lat: lat.Float64, Lon: lon.Float64}
	}
	var err error
	if out.MemberHashes, out.Embedding, err = decodeJSON(memberHashes, embedding); err != nil {
		return incident.Consolidated{}, err
	}
	return out, nil
}

func encodeJSON(c incident.Consolidated) (memberHashes string, embedding *string, err error) {
	hashes := c.MemberHashes
	if hashes == nil {
		hashes = []string{}
	}
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return "", nil, fmt.Errorf("encode member hashes: %w", err)
	}
	if len(c.Embedding) > 0 {
		vector, err := json.Marshal(c.Embedding)
		if err != nil {
			return "", nil, fmt.Errorf("encode embedding: %w", err)
		}
		value := string(vector)
		embedding = &value
	}
	return string(encoded), embedding, nil
}

func decodeJSON(memberHashes, embedding []byte) ([]string, []float64, error) {
	var hashes []string
	if len(memberHashes) > 0 {
		if err := json.Unmarshal(memberHashes, &hashes); err != nil {
			return nil, nil, fmt.Errorf("decode member hashes: %w", err)
		}
	}
	var vector []float64
	if len(embedding) > 0 && string(embedding) != "null" {
		if err := json.Unmarshal(embedding, &vector); err != nil {
			return nil, nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return hashes, vector, nil
}

func latLon(location *incident.Location) (*float64, *float64) {
	if location == nil {
		return nil, nil
	}
	lat, lon := location.Lat, location.Lon
	return &lat, &lon
}

func assetOrOther(t incident.AssetType) incident.AssetType {
	if t == "" {
		return incident.AssetOther
	}
	return t
}

func statusOrPending(s incident.VerificationStatus) incident.VerificationStatus {
	if s == "" {
		return incident.StatusPending
	}
	return s
}
