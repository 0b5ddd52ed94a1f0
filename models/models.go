package models

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&AdminUser{},
		&Question{},
		&Choice{},
	}
}
