package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// 本文件定义了以 JSON 形式存入 MySQL 的自定义列类型。
// 空向量统一存为 NULL，列表和字典类型存为 "[]" / "{}"，保证列内容始终是合法 JSON。

// Vector 是以 JSON 数组存储的嵌入向量。
// 长度为 0 表示"尚未生成嵌入"，入库时写 NULL。
type Vector []float32

// Value 实现 driver.Valuer 接口。
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan 实现 sql.Scanner 接口。
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// StringList 是以 JSON 数组存储的字符串列表。
type StringList []string

// Value 实现 driver.Valuer 接口，nil 列表存为空数组。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner 接口。
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, l)
}

// JSONMap 是以 JSON 对象存储的任意键值字典。
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer 接口，nil 字典存为空对象。
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口。
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, m)
}

// ScoreMap 是以 JSON 对象存储的数值打分字典。
type ScoreMap map[string]float64

// Value 实现 driver.Valuer 接口，nil 字典存为空对象。
func (m ScoreMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口。
func (m *ScoreMap) Scan(value interface{}) error {
	if value == nil {
		*m = ScoreMap{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, m)
}

// jsonBytes 将数据库驱动返回的值统一转换为字节切片。
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported type for JSON column")
	}
}
