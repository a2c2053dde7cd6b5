package dsl

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Parse читает один YAML-документ схемы. Неизвестные ключи — ошибка.
func Parse(data []byte, source string) ([]EntityType, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parse %s", source)
	}
	for i := range f.EntityTypes {
		f.EntityTypes[i].Source = source
	}
	return f.EntityTypes, nil
}

// LoadFile загружает типы из одного файла.
func LoadFile(path string) ([]EntityType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data, path)
}

// LoadDir загружает все *.yaml/*.yml рекурсивно, в лексикографическом порядке путей.
func LoadDir(root string) ([]EntityType, error) {
	var all []EntityType
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSchemaFile(path) {
			return nil
		}
		types, err := LoadFile(path)
		if err != nil {
			return err
		}
		all = append(all, types...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
