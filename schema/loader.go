package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// SettingFileName is the setting document inside an exercise concrete
// directory.
const SettingFileName = "setting.json"

type loadFunc func(data []byte) (*Setting, error)

// Newer schema versions append here; order is part of the latest-version
// computation.
var schemaLoaders = map[string]loadFunc{
	SchemaVersionV1: loadV1,
}

// Load parses and validates a setting document, dispatching on its
// schema_version field. Unrecognized versions are rejected.
func Load(data []byte) (*Setting, error) {
	var head struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ValidationError{Issues: []Issue{
			{Path: "(root)", Msg: fmt.Sprintf("invalid JSON: %v", err)},
		}}
	}
	loader, ok := schemaLoaders[head.SchemaVersion]
	if !ok {
		return nil, &ValidationError{SchemaVersion: head.SchemaVersion, Issues: []Issue{
			{Path: "schema_version", Msg: fmt.Sprintf("schema_version %q does not exist", head.SchemaVersion)},
		}}
	}
	return loader(data)
}

func loadV1(data []byte) (*Setting, error) {
	var s Setting
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &ValidationError{SchemaVersion: SchemaVersionV1, Issues: []Issue{
			{Path: "(root)", Msg: err.Error()},
		}}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ExerciseConcrete is one lecturer-authored grading bundle loaded from disk.
type ExerciseConcrete struct {
	Dir           string
	Setting       *Setting
	SchemaVersion string
	// DirectoryHash fingerprints the bundle contents for the evaluation
	// report metadata.
	DirectoryHash string
}

// LoadExerciseConcrete reads <dir>/setting.json and fingerprints the
// directory tree.
func LoadExerciseConcrete(dir string) (*ExerciseConcrete, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, &ValidationError{Issues: []Issue{
			{Path: "(root)", Msg: fmt.Sprintf("directory %q is required", dir)},
		}}
	}
	data, err := os.ReadFile(filepath.Join(dir, SettingFileName))
	if err != nil {
		return nil, &ValidationError{Issues: []Issue{
			{Path: SettingFileName, Msg: err.Error()},
		}}
	}
	setting, err := Load(data)
	if err != nil {
		return nil, err
	}
	hash, err := hashDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("hash exercise directory: %w", err)
	}
	return &ExerciseConcrete{
		Dir:           dir,
		Setting:       setting,
		SchemaVersion: setting.SchemaVersion,
		DirectoryHash: hash,
	}, nil
}

// hashDirectory digests relative paths and contents of all regular files,
// in sorted order, so the same bundle always yields the same fingerprint.
func hashDirectory(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", rel)
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
