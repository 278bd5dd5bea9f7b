// Package db содержит SQL-миграции схемы каталога, встроенные в бинарник.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
