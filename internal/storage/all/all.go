// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "jsonrel/internal/storage/mongo"
	_ "jsonrel/internal/storage/mssql"
	_ "jsonrel/internal/storage/mysql"
	_ "jsonrel/internal/storage/postgres"
	_ "jsonrel/internal/storage/sqlite"
)
