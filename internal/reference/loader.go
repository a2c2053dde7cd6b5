package reference

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все справочники из папки (reference/enums/).
// Отсутствующая папка — пустой каталог.
func LoadEnumCatalog(dir string) (Catalog, error) {
	result := make(Catalog)
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read enums dir %s", dir)
	}
	for _, file := range files {
		if file.IsDir() || !isYAML(file.Name()) {
			continue
		}
		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		// Имя справочника — из enumDir.Name или из имени файла
		enumName := enumDir.Name
		if enumName == "" {
			enumName = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
			enumDir.Name = enumName
		}
		if _, dup := result[enumName]; dup {
			return nil, errors.Newf("duplicate enum directory %q (file: %s)", enumName, path)
		}
		if err := enumDir.check(); err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		result[enumName] = enumDir
	}
	return result, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
