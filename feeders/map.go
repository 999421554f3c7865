package feeders

import (
	"fmt"
	"reflect"
	"strings"
)

// MapFeeder feeds configuration structs from a flat map of dotted
// property keys ("modtest.server.port") to values. FeedKey scopes the
// map to a section prefix, so a section registered as "modtest.server"
// is populated from keys underneath it.
//
// Struct fields match keys through their yaml, json, toml, or env tags,
// falling back to the lower-cased field name. Map-typed fields collect
// every entry under their key prefix.
type MapFeeder struct {
	provider     func() map[string]interface{}
	fieldTracker FieldTracker
}

// NewMapFeeder creates a MapFeeder over a fixed set of values.
func NewMapFeeder(values map[string]interface{}) *MapFeeder {
	return &MapFeeder{provider: func() map[string]interface{} { return values }}
}

// NewMapProviderFeeder creates a MapFeeder that snapshots its values
// from provider on every feed, so callers can re-feed after the backing
// store changes.
func NewMapProviderFeeder(provider func() map[string]interface{}) *MapFeeder {
	return &MapFeeder{provider: provider}
}

// SetFieldTracker sets the field tracker for recording field populations.
func (m *MapFeeder) SetFieldTracker(tracker FieldTracker) {
	m.fieldTracker = tracker
}

// Feed populates the structure from top-level keys.
func (m *MapFeeder) Feed(structure interface{}) error {
	return m.feedWithPrefix(structure, "")
}

// FeedKey populates the target from keys under the given section prefix.
func (m *MapFeeder) FeedKey(key string, target interface{}) error {
	return m.feedWithPrefix(target, key)
}

func (m *MapFeeder) feedWithPrefix(structure interface{}, keyPrefix string) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return wrapInvalidStructureError(structure)
	}

	values := m.provider()
	if len(values) == 0 {
		return nil
	}

	return m.processStructFields(rv.Elem(), keyPrefix, "", values)
}

func (m *MapFeeder) processStructFields(rv reflect.Value, keyPrefix, fieldPrefix string, values map[string]interface{}) error {
	structType := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := structType.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := fieldType.Name
		if fieldPrefix != "" {
			fieldPath = fieldPrefix + "." + fieldPath
		}

		candidates := fieldKeyCandidates(fieldType)
		if len(candidates) == 0 {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			nestedPrefix := joinKey(keyPrefix, candidates[0])
			if err := m.processStructFields(field, nestedPrefix, fieldPath, values); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map {
			if err := m.collectMapField(field, fieldType, keyPrefix, candidates, fieldPath, values); err != nil {
				return err
			}
			continue
		}

		searchKeys := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			fullKey := joinKey(keyPrefix, candidate)
			searchKeys = append(searchKeys, fullKey)

			value, exists := values[fullKey]
			if !exists || value == nil {
				continue
			}

			if err := m.setFieldValue(field, fieldType, fullKey, value, fieldPath, searchKeys); err != nil {
				return err
			}
			break
		}
	}

	return nil
}

// fieldKeyCandidates returns the property key names a field answers to,
// most specific tag first.
func fieldKeyCandidates(fieldType reflect.StructField) []string {
	candidates := make([]string, 0, 5)
	seen := make(map[string]bool)

	add := func(name string) {
		if name == "" || name == "-" || seen[name] {
			return
		}
		seen[name] = true
		candidates = append(candidates, name)
	}

	for _, tag := range []string{"yaml", "json", "toml"} {
		if value, ok := fieldType.Tag.Lookup(tag); ok {
			add(strings.Split(value, ",")[0])
		}
	}
	if value, ok := fieldType.Tag.Lookup("env"); ok {
		add(strings.ToLower(strings.Split(value, ",")[0]))
	}
	add(strings.ToLower(fieldType.Name))

	return candidates
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (m *MapFeeder) setFieldValue(field reflect.Value, fieldType reflect.StructField, key string, value interface{}, fieldPath string, searchKeys []string) error {
	valueType := reflect.TypeOf(value)

	switch {
	case valueType.AssignableTo(field.Type()):
		field.Set(reflect.ValueOf(value))
	case valueType.Kind() == reflect.String:
		converted, err := convertString(value.(string), field.Type())
		if err != nil {
			return fmt.Errorf("key '%s': %w", key, err)
		}
		field.Set(reflect.ValueOf(converted))
	case valueType.ConvertibleTo(field.Type()) && isNumericKind(valueType.Kind()) && isNumericKind(field.Kind()):
		field.Set(reflect.ValueOf(value).Convert(field.Type()))
	case valueType.Kind() == reflect.Slice && field.Kind() == reflect.Slice:
		converted, err := convertSlice(value, field.Type())
		if err != nil {
			return fmt.Errorf("key '%s': %w", key, err)
		}
		field.Set(converted)
	default:
		return wrapMapConversionError(key, value, field.Type().String())
	}

	if m.fieldTracker != nil {
		m.fieldTracker.RecordFieldPopulation(FieldPopulation{
			FieldPath:  fieldPath,
			FieldName:  fieldType.Name,
			FieldType:  field.Type().String(),
			FeederType: "MapFeeder",
			SourceType: "properties",
			SourceKey:  key,
			Value:      field.Interface(),
			SearchKeys: searchKeys,
			FoundKey:   key,
		})
	}

	return nil
}

// collectMapField fills a map-typed field either from a direct map value
// or by gathering every flattened key under the field's prefix.
func (m *MapFeeder) collectMapField(field reflect.Value, fieldType reflect.StructField, keyPrefix string, candidates []string, fieldPath string, values map[string]interface{}) error {
	if field.Type().Key().Kind() != reflect.String {
		return wrapUnsupportedFieldTypeError(fieldPath, field.Type().String())
	}

	elemType := field.Type().Elem()
	result := reflect.MakeMap(field.Type())
	var foundKey string

	for _, candidate := range candidates {
		fullKey := joinKey(keyPrefix, candidate)

		if direct, exists := values[fullKey]; exists && direct != nil {
			directValue := reflect.ValueOf(direct)
			if directValue.Kind() == reflect.Map && directValue.Type().Key().Kind() == reflect.String {
				iter := directValue.MapRange()
				for iter.Next() {
					entry, err := mapEntryValue(iter.Value().Interface(), elemType)
					if err != nil {
						return fmt.Errorf("key '%s': %w", fullKey, err)
					}
					result.SetMapIndex(iter.Key(), entry)
				}
				foundKey = fullKey
			}
		}

		entryPrefix := fullKey + "."
		for key, value := range values {
			if !strings.HasPrefix(key, entryPrefix) || value == nil {
				continue
			}
			entry, err := mapEntryValue(value, elemType)
			if err != nil {
				return fmt.Errorf("key '%s': %w", key, err)
			}
			result.SetMapIndex(reflect.ValueOf(key[len(entryPrefix):]), entry)
			foundKey = fullKey
		}

		if foundKey != "" {
			break
		}
	}

	if foundKey == "" {
		return nil
	}

	field.Set(result)

	if m.fieldTracker != nil {
		m.fieldTracker.RecordFieldPopulation(FieldPopulation{
			FieldPath:  fieldPath,
			FieldName:  fieldType.Name,
			FieldType:  field.Type().String(),
			FeederType: "MapFeeder",
			SourceType: "properties",
			SourceKey:  foundKey,
			Value:      field.Interface(),
			SearchKeys: []string{foundKey},
			FoundKey:   foundKey,
		})
	}

	return nil
}

func mapEntryValue(value interface{}, elemType reflect.Type) (reflect.Value, error) {
	valueType := reflect.TypeOf(value)
	switch {
	case valueType.AssignableTo(elemType):
		return reflect.ValueOf(value), nil
	case valueType.Kind() == reflect.String:
		converted, err := convertString(value.(string), elemType)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(converted), nil
	case elemType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprintf("%v", value)), nil
	default:
		return reflect.Value{}, wrapMapConversionError("map entry", value, elemType.String())
	}
}

func convertSlice(value interface{}, sliceType reflect.Type) (reflect.Value, error) {
	source := reflect.ValueOf(value)
	elemType := sliceType.Elem()
	result := reflect.MakeSlice(sliceType, 0, source.Len())

	for i := 0; i < source.Len(); i++ {
		item := source.Index(i).Interface()
		itemType := reflect.TypeOf(item)
		switch {
		case itemType.AssignableTo(elemType):
			result = reflect.Append(result, reflect.ValueOf(item))
		case itemType.Kind() == reflect.String:
			converted, err := convertString(item.(string), elemType)
			if err != nil {
				return reflect.Value{}, err
			}
			result = reflect.Append(result, reflect.ValueOf(converted))
		case elemType.Kind() == reflect.String:
			result = reflect.Append(result, reflect.ValueOf(fmt.Sprintf("%v", item)))
		default:
			return reflect.Value{}, wrapMapConversionError("slice element", item, elemType.String())
		}
	}

	return result, nil
}

func isNumericKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Invalid, reflect.Bool, reflect.Uintptr, reflect.Complex64,
		reflect.Complex128, reflect.Array, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice,
		reflect.String, reflect.Struct, reflect.UnsafePointer:
		return false
	default:
		return false
	}
}
