// Package all links every storage backend into the binary.
package all

import (
	_ "dashetl/internal/storage/mssql"
	_ "dashetl/internal/storage/postgres"
	_ "dashetl/internal/storage/sqlite"
)
