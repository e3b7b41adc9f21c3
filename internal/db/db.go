package db

import (
	"log"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/nightcall-labs/nightcall/internal/engage"
	"github.com/nightcall-labs/nightcall/internal/roster"
)

// Connect opens the database and runs migrations. DSNs prefixed with
// "sqlite:" open a local sqlite file, anything else is treated as MySQL.
func Connect(dsn string) *gorm.DB {
	var (
		gdb *gorm.DB
		err error
	)
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		gdb, err = gorm.Open(gormsqlite.Open(path), &gorm.Config{})
	} else {
		gdb, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("db open: %v", err)
	}

	if err := gdb.AutoMigrate(
		&engage.Session{},
		&engage.Turn{},
		&engage.Job{},
		&roster.Member{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}
