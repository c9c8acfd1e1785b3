package mssql

import (
	// registers the "sqlserver" database/sql driver
	_ "github.com/microsoft/go-mssqldb"

	"dashetl/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}
