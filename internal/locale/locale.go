// Package locale loads the embedded message catalogs and renders
// translated strings with :placeholder substitution.
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var catalogs embed.FS

type Translator struct {
	fallback string
	messages map[string]map[string]string
}

// Load reads every embedded catalog. fallback is used when a locale or a
// key is missing.
func Load(fallback string) (*Translator, error) {
	return LoadFS(catalogs, "lang", fallback)
}

func LoadFS(fsys fs.FS, dir, fallback string) (*Translator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read catalogs: %w", err)
	}
	t := &Translator{fallback: fallback, messages: map[string]map[string]string{}}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
		flat := map[string]string{}
		flatten("", tree, flat)
		t.messages[strings.TrimSuffix(name, ".yaml")] = flat
	}
	if _, ok := t.messages[fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %q has no catalog", fallback)
	}
	return t, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flatten(full, v, out)
		case string:
			out[full] = v
		default:
			out[full] = fmt.Sprint(v)
		}
	}
}

// Has reports whether a catalog exists for the locale.
func (t *Translator) Has(locale string) bool {
	_, ok := t.messages[locale]
	return ok
}

// Locales lists the loaded locale codes.
func (t *Translator) Locales() []string {
	codes := make([]string, 0, len(t.messages))
	for code := range t.messages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Translate renders key in locale. Unknown keys come back verbatim.
func (t *Translator) Translate(locale, key string, params map[string]string) string {
	message, ok := t.messages[locale][key]
	if !ok {
		message, ok = t.messages[t.fallback][key]
	}
	if !ok {
		return key
	}
	return replace(message, params)
}

func replace(message string, params map[string]string) string {
	if len(params) == 0 {
		return message
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	// longest first so :name never clobbers :name_full
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, ":"+key, params[key])
	}
	return strings.NewReplacer(pairs...).Replace(message)
}
