package postgres

import "dashetl/internal/storage"

func init() {
	storage.Register("postgres", New)
}
