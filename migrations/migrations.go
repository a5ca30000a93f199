// Package migrations embeds the SQL schema scripts
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Script is one named migration
type Script struct {
	Name string
	SQL  string
}

// Up returns the up scripts in name order
func Up() ([]Script, error) {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{
			Name: strings.TrimSuffix(name, ".up.sql"),
			SQL:  string(data),
		})
	}
	return scripts, nil
}
