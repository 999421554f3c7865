package modtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// PropertySource describes a file that contributes properties to the
// test context. The format is inferred from the file extension:
// .yaml/.yml, .json, .toml, or .properties.
//
// Relative paths resolve against the test's working directory first
// (go test runs each package in its own directory, so "testdata/app.yaml"
// works from anywhere in the package), then against the module root.
type PropertySource struct {
	// Path to the property file, absolute or relative.
	Path string

	// Optional sources are skipped silently when the file is missing.
	Optional bool
}

// resolvedSource is a property source after path resolution and loading.
type resolvedSource struct {
	source  PropertySource
	path    string   // resolved absolute path of the base file
	files   []string // every file loaded, base plus environment variants
	values  map[string]any
	missing bool
}

// loadSource resolves and parses a property source plus the variant
// files for each active environment. An environment variant of
// "testdata/app.yaml" for environment "integration" is
// "testdata/app-integration.yaml"; variants are optional and override
// the base file's values in the order the environments were declared.
func loadSource(source PropertySource, environments []string) (*resolvedSource, error) {
	resolved, err := resolveTestPath(source.Path)
	if err != nil {
		if source.Optional {
			return &resolvedSource{source: source, missing: true, values: map[string]any{}}, nil
		}
		return nil, err
	}

	values, err := parsePropertyFile(resolved)
	if err != nil {
		return nil, err
	}

	out := &resolvedSource{
		source: source,
		path:   resolved,
		files:  []string{resolved},
		values: values,
	}

	for _, env := range environments {
		variant := environmentVariant(resolved, env)
		if _, statErr := os.Stat(variant); statErr != nil {
			continue
		}
		variantValues, err := parsePropertyFile(variant)
		if err != nil {
			return nil, err
		}
		for key, value := range variantValues {
			out.values[key] = value
		}
		out.files = append(out.files, variant)
	}

	return out, nil
}

// reload re-parses every file this source previously loaded, preserving
// variant precedence. Used by the source watcher.
func (r *resolvedSource) reload() (map[string]any, error) {
	values := make(map[string]any)
	for _, file := range r.files {
		fileValues, err := parsePropertyFile(file)
		if err != nil {
			return nil, err
		}
		for key, value := range fileValues {
			values[key] = value
		}
	}
	return values, nil
}

// environmentVariant derives the per-environment file name:
// dir/base-<env>.ext.
func environmentVariant(path, environment string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+"-"+environment+ext)
}

// resolveTestPath resolves a property file path. Absolute paths are
// checked directly; relative paths are tried against the current working
// directory and then against the enclosing module root.
func resolveTestPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrPropertySourceNotFound, path)
		}
		return path, nil
	}

	attempted := make([]string, 0, 2)

	cwd, err := os.Getwd()
	if err == nil {
		candidate := filepath.Join(cwd, path)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
		attempted = append(attempted, candidate)

		if root, ok := findModuleRoot(cwd); ok && root != cwd {
			candidate = filepath.Join(root, path)
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate, nil
			}
			attempted = append(attempted, candidate)
		}
	}

	return "", fmt.Errorf("%w: %s (tried %s)", ErrPropertySourceNotFound, path, strings.Join(attempted, ", "))
}

// findModuleRoot walks upward from dir until it finds a go.mod.
func findModuleRoot(dir string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// parsePropertyFile parses a single property file into flattened dotted
// keys.
func parsePropertyFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading property source '%s': %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML '%s': %w", ErrPropertySourceFormat, path, err)
		}
		return flattenTree(tree), nil
	case ".json":
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing JSON '%s': %w", ErrPropertySourceFormat, path, err)
		}
		return flattenTree(tree), nil
	case ".toml":
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing TOML '%s': %w", ErrPropertySourceFormat, path, err)
		}
		return flattenTree(tree), nil
	case ".properties":
		return parsePropertiesData(data, path)
	default:
		return nil, fmt.Errorf("%w: unsupported extension '%s'", ErrPropertySourceFormat, filepath.Ext(path))
	}
}

// flattenTree converts a nested map into flat dotted keys. Slices and
// scalars are stored as-is at their key.
func flattenTree(tree map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto("", tree, out)
	return out
}

func flattenInto(prefix string, node map[string]any, out map[string]any) {
	for key, value := range node {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(fullKey, nested, out)
			continue
		}
		out[fullKey] = value
	}
}

// parsePropertiesData parses Java-style .properties content: key=value
// or key: value lines, with # and ! comments. Keys are already dotted.
func parsePropertiesData(data []byte, path string) (map[string]any, error) {
	out := make(map[string]any)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		sep := strings.IndexAny(line, "=:")
		if sep == -1 {
			return nil, fmt.Errorf("%w: '%s' line %d: missing separator", ErrPropertySourceFormat, path, lineNum)
		}

		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			return nil, fmt.Errorf("%w: '%s' line %d: empty key", ErrPropertySourceFormat, path, lineNum)
		}
		out[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading property source '%s': %w", path, err)
	}

	return out, nil
}
