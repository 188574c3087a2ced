package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const CurrentSchemaVersion = 2

// Snapshot is the serialized form of a Store used for export/import and by
// the snapshot based backends (file, redis, drive backup).
type Snapshot struct {
	SchemaVersion int       `json:"schemaVersion"`
	ExportedAt    time.Time `json:"exportedAt"`
	Days          Store     `json:"days"`
}

// migration upgrades a decoded document from version v to v+1.
type migration func(doc map[string]any) (map[string]any, error)

var migrations = map[int]migration{
	1: migrateV1toV2,
}

const snapshotSchemaURL = "schema://progress-snapshot.json"

const snapshotSchema = `{
	"type": "object",
	"required": ["schemaVersion", "exportedAt", "days"],
	"properties": {
		"schemaVersion": {"const": 2},
		"exportedAt": {"type": "string"},
		"days": {
			"type": "object",
			"propertyNames": {"pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
			"additionalProperties": {
				"type": "object",
				"required": ["date", "completed", "audioMinutes", "completionPercentage", "timestamp"],
				"properties": {
					"date": {"type": "string"},
					"completed": {"type": "boolean"},
					"audioMinutes": {"type": "integer", "minimum": 0},
					"completionPercentage": {"type": "integer", "minimum": 0},
					"timestamp": {"type": "string"}
				}
			}
		}
	}
}`

var (
	compiledSchemaOnce sync.Once
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
)

func getSnapshotSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		var def any
		if err := json.Unmarshal([]byte(snapshotSchema), &def); err != nil {
			compiledSchemaErr = fmt.Errorf("parse snapshot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(snapshotSchemaURL, def); err != nil {
			compiledSchemaErr = fmt.Errorf("add snapshot schema resource: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = c.Compile(snapshotSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// Export serializes the full store plus the export time.
func Export(store Store, now time.Time) ([]byte, error) {
	if store == nil {
		store = NewStore()
	}
	snap := Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		ExportedAt:    now,
		Days:          store,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Import parses a snapshot of any known schema version. Every failure wraps
// ErrInvalidImport.
func Import(data []byte) (Store, error) {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return snap.Days, nil
}

// DecodeSnapshot migrates, validates and decodes a snapshot document.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalidImport, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidImport)
	}

	version, err := detectSchemaVersion(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidImport, version)
	}
	for v := version; v < CurrentSchemaVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from schema version %d", ErrInvalidImport, v)
		}
		if doc, err = migrate(doc); err != nil {
			return nil, fmt.Errorf("%w: migrate from v%d: %w", ErrInvalidImport, v, err)
		}
	}

	schema, err := getSnapshotSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(any(doc)); err != nil {
		return nil, fmt.Errorf("%w: schema validation failed: %w", ErrInvalidImport, err)
	}

	migrated, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(migrated))
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidImport, err)
	}
	if snap.Days == nil {
		snap.Days = NewStore()
	}
	if err := snap.Days.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}

	return &snap, nil
}

func detectSchemaVersion(doc map[string]any) (int, error) {
	raw, ok := doc["schemaVersion"]
	if !ok {
		// the browser app stored {progress, exportDate} without any version
		if _, legacy := doc["progress"]; legacy {
			return 1, nil
		}
		return 0, fmt.Errorf("missing schema version")
	}
	v, ok := raw.(float64)
	if !ok || v != math.Trunc(v) || v < 1 {
		return 0, fmt.Errorf("bad schema version: %v", raw)
	}
	return int(v), nil
}

func migrateV1toV2(doc map[string]any) (map[string]any, error) {
	progressDoc, ok := doc["progress"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("progress is not an object")
	}

	exportedAt, _ := doc["exportDate"].(string)
	if exportedAt == "" {
		exportedAt = time.Unix(0, 0).UTC().Format(time.RFC3339)
	}

	days := make(map[string]any, len(progressDoc))
	for date, rawDay := range progressDoc {
		day, ok := rawDay.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("day %s is not an object", date)
		}
		upgraded := make(map[string]any, len(day)+1)
		for k, v := range day {
			upgraded[k] = v
		}
		upgraded["date"] = date
		// the browser app sometimes stored fractional minutes
		for _, field := range []string{"audioMinutes", "completionPercentage"} {
			switch f := upgraded[field].(type) {
			case float64:
				upgraded[field] = math.Floor(f + 0.5)
			case nil:
				upgraded[field] = float64(0)
			}
		}
		switch ts := upgraded["timestamp"].(type) {
		case float64:
			upgraded["timestamp"] = time.UnixMilli(int64(ts)).UTC().Format(time.RFC3339Nano)
		case nil:
			upgraded["timestamp"] = exportedAt
		}
		if _, ok := upgraded["completed"]; !ok {
			upgraded["completed"] = false
		}
		days[date] = upgraded
	}

	return map[string]any{
		"schemaVersion": float64(2),
		"exportedAt":    exportedAt,
		"days":          days,
	}, nil
}
