package model

import (
	"gorm.io/gorm"
)

// writesAny reports whether the pending UPDATE may touch one of columns. An update
// issued with a whole struct, which is what Save does, names no columns and always
// counts as touching all of them.
func writesAny(tx *gorm.DB, columns ...string) bool {
	values, ok := tx.Statement.Dest.(map[string]interface{})
	if !ok {
		return true
	}

	pending := make(map[string]bool, len(values))
	for key := range values {
		if tx.Statement.Schema != nil {
			if field := tx.Statement.Schema.LookUpField(key); field != nil {
				key = field.DBName
			}
		}
		pending[key] = true
	}

	for _, column := range columns {
		if pending[column] {
			return true
		}
	}
	return false
}
