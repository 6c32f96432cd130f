package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonbValue marshals a model into a JSONB column value.
func jsonbValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	return data, nil
}

// jsonbScan unmarshals a JSONB column into a model. NULL leaves dest untouched.
func jsonbScan(src, dest interface{}) error {
	switch data := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(data, dest)
	case string:
		return json.Unmarshal([]byte(data), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// StringList is a JSONB-backed list of strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return jsonbValue([]string(l))
}

func (l *StringList) Scan(src interface{}) error {
	return jsonbScan(src, (*[]string)(l))
}

// VersionMap maps dataset types to the version number consulted.
type VersionMap map[string]int

func (m VersionMap) Value() (driver.Value, error) {
	return jsonbValue(map[string]int(m))
}

func (m *VersionMap) Scan(src interface{}) error {
	return jsonbScan(src, (*map[string]int)(m))
}
