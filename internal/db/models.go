package db

import (
	"encoding/json"
	"time"
)

// Incident maps dronewatch.incidents.
type Incident struct {
	IncidentID         int64           `gorm:"column:incident_id;primaryKey;autoIncrement"`
	IncidentUUID       string          `gorm:"column:incident_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title              string          `gorm:"column:title;type:text;not null"`
	Narrative          string          `gorm:"column:narrative;type:text;not null;default:''"`
	Lat                *float64        `gorm:"column:lat;type:double precision"`
	Lon                *float64        `gorm:"column:lon;type:double precision"`
	OccurredAt         time.Time       `gorm:"column:occurred_at;type:timestamptz;not null"`
	AssetType          string          `gorm:"column:asset_type;type:text;not null;default:other"`
	Country            string          `gorm:"column:country;type:text;not null;default:''"`
	EvidenceScore      int             `gorm:"column:evidence_score;type:smallint;not null"`
	HasOfficialQuote   bool            `gorm:"column:has_official_quote;type:boolean;not null;default:false"`
	VerificationStatus string          `gorm:"column:verification_status;type:text;not null;default:pending"`
	MergedFrom         int             `gorm:"column:merged_from;type:integer;not null;default:1"`
	ContentHash        string          `gorm:"column:content_hash;type:text;not null;unique"`
	MemberHashes       json.RawMessage `gorm:"column:member_hashes;type:jsonb;not null;default:'[]'"`
	Embedding          json.RawMessage `gorm:"column:embedding;type:jsonb"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Incident) TableName() string { return "dronewatch.incidents" }

// IncidentSource maps dronewatch.incident_sources. source_url is unique when non-empty.
type IncidentSource struct {
	IncidentSourceID int64      `gorm:"column:incident_source_id;primaryKey;autoIncrement"`
	IncidentID       int64      `gorm:"column:incident_id;type:bigint;not null"`
	SourceURL        string     `gorm:"column:source_url;type:text;not null;default:''"`
	SourceName       string     `gorm:"column:source_name;type:text;not null"`
	SourceType       string     `gorm:"column:source_type;type:text;not null"`
	TrustWeight      int        `gorm:"column:trust_weight;type:smallint;not null"`
	Quote            *string    `gorm:"column:quote;type:text"`
	PublishedAt      *time.Time `gorm:"column:published_at;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (IncidentSource) TableName() string { return "dronewatch.incident_sources" }

// IncidentMerge maps dronewatch.incident_merges, the audit trail of dedup merges.
type IncidentMerge struct {
	IncidentMergeID   int64     `gorm:"column:incident_merge_id;primaryKey;autoIncrement"`
	IncidentID        int64     `gorm:"column:incident_id;type:bigint;not null;index"`
	MergedContentHash string    `gorm:"column:merged_content_hash;type:text;not null"`
	Tier              string    `gorm:"column:tier;type:text;not null"`
	Similarity        *float64  `gorm:"column:similarity;type:double precision"`
	Confidence        *float64  `gorm:"column:confidence;type:double precision"`
	Reasoning         *string   `gorm:"column:reasoning;type:text"`
	EvidenceBefore    int       `gorm:"column:evidence_before;type:smallint;not null"`
	EvidenceAfter     int       `gorm:"column:evidence_after;type:smallint;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (IncidentMerge) TableName() string { return "dronewatch.incident_merges" }

// DedupCacheEntry maps dronewatch.dedup_cache.
type DedupCacheEntry struct {
	ContentHash string     `gorm:"column:content_hash;type:text;primaryKey"`
	Title       string     `gorm:"column:title;type:text;not null;default:''"`
	OccurredAt  *time.Time `gorm:"column:occurred_at;type:timestamptz"`
	SourceName  string     `gorm:"column:source_name;type:text;not null;default:''"`
	SeenAt      time.Time  `gorm:"column:seen_at;type:timestamptz;not null;default:now()"`
}

func (DedupCacheEntry) TableName() string { return "dronewatch.dedup_cache" }

func autoMigrateModels() []any {
	return []any{
		&Incident{},
		&IncidentSource{},
		&IncidentMerge{},
		&DedupCacheEntry{},
	}
}
