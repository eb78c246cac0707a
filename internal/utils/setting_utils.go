package utils

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"pt-watch/internal/types"
)

// DefaultSystemSettings builds a SystemSettings populated from the struct's
// `default` tags.
func DefaultSystemSettings() types.SystemSettings {
	var settings types.SystemSettings
	v := reflect.ValueOf(&settings).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		def, ok := field.Tag.Lookup("default")
		if !ok {
			continue
		}
		setFieldFromString(v.Field(i), def)
	}
	return settings
}

// GenerateSettingsMetadata flattens the settings struct into dashboard rows,
// pairing each current value with its default and display metadata.
func GenerateSettingsMetadata(settings *types.SystemSettings) []types.SystemSettingInfo {
	defaults := DefaultSystemSettings()

	v := reflect.ValueOf(settings).Elem()
	dv := reflect.ValueOf(&defaults).Elem()
	t := v.Type()

	infos := make([]types.SystemSettingInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := jsonKey(field)
		if key == "" {
			continue
		}
		infos = append(infos, types.SystemSettingInfo{
			Key:          key,
			Value:        v.Field(i).Interface(),
			DefaultValue: dv.Field(i).Interface(),
			Name:         field.Tag.Get("name"),
			Category:     field.Tag.Get("category"),
			Description:  field.Tag.Get("desc"),
		})
	}
	return infos
}

// SettingFieldByKey finds the struct field whose json tag matches key.
func SettingFieldByKey(settings *types.SystemSettings, key string) (reflect.Value, reflect.StructField, bool) {
	v := reflect.ValueOf(settings).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonKey(t.Field(i)) == key {
			return v.Field(i), t.Field(i), true
		}
	}
	return reflect.Value{}, reflect.StructField{}, false
}

// ValidateSettingValue checks a raw JSON value against the field's type and
// its `validate` tag (min=/max= bounds for integers).
func ValidateSettingValue(field reflect.StructField, value any) error {
	key := jsonKey(field)

	switch field.Type.Kind() {
	case reflect.Int:
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("setting %s: expected a number, got %T", key, value)
		}
		if num != float64(int(num)) {
			return fmt.Errorf("setting %s: must be an integer", key)
		}
		min, max, hasMin, hasMax := parseValidateBounds(field.Tag.Get("validate"))
		if hasMin && int(num) < min {
			return fmt.Errorf("setting %s: value %d is below minimum value %d", key, int(num), min)
		}
		if hasMax && int(num) > max {
			return fmt.Errorf("setting %s: value %d is above maximum value %d", key, int(num), max)
		}
	case reflect.Bool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("setting %s: expected a boolean, got %T", key, value)
		}
	case reflect.String:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("setting %s: expected a string, got %T", key, value)
		}
	}
	return nil
}

// ClampSettings forces every integer setting back inside its validate bounds.
// Used when reading effective config so a hand-edited database row cannot
// break the scanner.
func ClampSettings(settings *types.SystemSettings) {
	v := reflect.ValueOf(settings).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() != reflect.Int {
			continue
		}
		min, max, hasMin, hasMax := parseValidateBounds(field.Tag.Get("validate"))
		val := int(v.Field(i).Int())
		if hasMin && val < min {
			v.Field(i).SetInt(int64(min))
		}
		if hasMax && val > max {
			v.Field(i).SetInt(int64(max))
		}
	}
}

func jsonKey(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

func parseValidateBounds(tag string) (min, max int, hasMin, hasMax bool) {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "min="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				min, hasMin = n, true
			}
		}
		if v, ok := strings.CutPrefix(part, "max="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				max, hasMax = n, true
			}
		}
	}
	return
}

func setFieldFromString(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int:
		if n, err := strconv.Atoi(raw); err == nil {
			field.SetInt(int64(n))
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	}
}
