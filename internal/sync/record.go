package sync

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	gosync "sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

// recordVersion is written into every persisted record. Records of any
// other version fail validation and are treated as absent.
const recordVersion = 1

const schemaBase = "https://journal-sync.invalid/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// Record kinds, named after their schema files.
const (
	kindCache   = "cache"
	kindPending = "pending"
	kindBinding = "binding"
)

var (
	schemasOnce gosync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

// loadSchemas compiles the embedded record schemas once.
func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		entries, err := fs.ReadDir(schemaFS, "schemas")
		if err != nil {
			schemasErr = fmt.Errorf("sync: reading schemas: %w", err)
			return
		}

		for _, e := range entries {
			data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = fmt.Errorf("sync: reading schema %s: %w", e.Name(), err)
				return
			}

			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				schemasErr = fmt.Errorf("sync: parsing schema %s: %w", e.Name(), err)
				return
			}

			if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
				schemasErr = fmt.Errorf("sync: adding schema %s: %w", e.Name(), err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema)

		for _, kind := range []string{kindCache, kindPending, kindBinding} {
			sch, err := c.Compile(schemaBase + kind + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("sync: compiling schema %s: %w", kind, err)
				return
			}

			compiled[kind] = sch
		}

		schemas = compiled
	})

	return schemas, schemasErr
}

// validate checks raw JSON against the schema for kind.
func validate(kind string, data []byte) error {
	compiled, err := loadSchemas()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, kind, err)
	}

	if err := compiled[kind].Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, kind, err)
	}

	return nil
}

// decodeRecord validates data against kind's schema and unmarshals it.
func decodeRecord(kind string, data []byte, out any) error {
	if err := validate(kind, data); err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, kind, err)
	}

	return nil
}

type cacheRecord struct {
	V            int          `json:"v"`
	Date         day.Date     `json:"date"`
	Identity     string       `json:"identity,omitempty"`
	Content      string       `json:"content"`
	Media        remote.Media `json:"media"`
	LastModified time.Time    `json:"last_modified"`
	State        SyncState    `json:"state"`
}

func encodeCache(doc Document) ([]byte, error) {
	return json.Marshal(cacheRecord{
		V:            recordVersion,
		Date:         doc.Date,
		Identity:     doc.Identity,
		Content:      doc.Content,
		Media:        doc.Media,
		LastModified: doc.LastModified.UTC(),
		State:        doc.State,
	})
}

func decodeCache(data []byte) (Document, error) {
	var rec cacheRecord
	if err := decodeRecord(kindCache, data, &rec); err != nil {
		return Document{}, err
	}

	return Document{
		Date:         rec.Date,
		Identity:     rec.Identity,
		Content:      rec.Content,
		Media:        rec.Media,
		LastModified: rec.LastModified,
		State:        rec.State,
	}, nil
}

type pendingRecord struct {
	V            int          `json:"v"`
	Date         day.Date     `json:"date"`
	Content      string       `json:"content"`
	Media        remote.Media `json:"media"`
	LastModified time.Time    `json:"last_modified"`
}

func encodePending(rec PendingRecord) ([]byte, error) {
	return json.Marshal(pendingRecord{
		V:            recordVersion,
		Date:         rec.Date,
		Content:      rec.Content,
		Media:        rec.Media,
		LastModified: rec.LastModified.UTC(),
	})
}

func decodePending(data []byte) (PendingRecord, error) {
	var rec pendingRecord
	if err := decodeRecord(kindPending, data, &rec); err != nil {
		return PendingRecord{}, err
	}

	return PendingRecord{
		Date:         rec.Date,
		Content:      rec.Content,
		Media:        rec.Media,
		LastModified: rec.LastModified,
	}, nil
}

type bindingRecord struct {
	V        int      `json:"v"`
	Date     day.Date `json:"date"`
	Identity string   `json:"identity"`
}

func encodeBinding(d day.Date, identity string) ([]byte, error) {
	return json.Marshal(bindingRecord{V: recordVersion, Date: d, Identity: identity})
}

func decodeBinding(data []byte) (string, error) {
	var rec bindingRecord
	if err := decodeRecord(kindBinding, data, &rec); err != nil {
		return "", err
	}

	return rec.Identity, nil
}

// Storage key layout: <prefix><escaped user id>/<date>. Every key is scoped
// to a user so that a device shared between accounts never mixes their
// documents. The user id is path-escaped, so one user's prefix can never
// match another user's keys ("alice/x" is stored as "alice%2Fx").
const (
	prefixCache    = "cache/"
	prefixPending  = "pending/"
	prefixIdentity = "identity/"
)

func recordKey(prefix string, k day.Key) string {
	return userPrefix(prefix, k.UserID) + k.Date.String()
}

func userPrefix(prefix, userID string) string {
	return prefix + url.PathEscape(userID) + "/"
}

// dateFromKey parses the trailing date of a storage key.
func dateFromKey(key string) (day.Date, error) {
	return day.Parse(path.Base(key))
}
