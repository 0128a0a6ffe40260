// Command dbinspect prints the live schema of every table the application
// manages: columns, and on PostgreSQL the constraints as well.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"socialhub/internal/config"
	"socialhub/internal/database"

	"gorm.io/gorm"
)

type constraint struct {
	Table string `gorm:"column:relname"`
	Name  string `gorm:"column:conname"`
	Def   string `gorm:"column:def"`
}

func main() {
	only := flag.String("table", "", "Inspect a single table")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		log.Fatal(err)
	}

	for _, model := range database.PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			log.Fatalf("parse %T: %v", model, err)
		}
		table := stmt.Schema.Table
		if *only != "" && !strings.EqualFold(*only, table) {
			continue
		}

		if !db.Migrator().HasTable(table) {
			fmt.Printf("%s: MISSING\n", table)
			continue
		}
		columns, err := db.Migrator().ColumnTypes(table)
		if err != nil {
			log.Fatalf("columns of %s: %v", table, err)
		}
		fmt.Printf("%s:\n", table)
		for _, c := range columns {
			nullable, _ := c.Nullable()
			fmt.Printf(" - %s: %s (nullable=%t)\n", c.Name(), c.DatabaseTypeName(), nullable)
		}

		if db.Dialector.Name() != "postgres" {
			continue
		}
		var constraints []constraint
		if err := db.Raw(`SELECT r.relname, c.conname, pg_get_constraintdef(c.oid) AS def
			FROM pg_constraint c
			JOIN pg_class r ON c.conrelid = r.oid
			JOIN pg_namespace n ON n.oid = r.relnamespace
			WHERE n.nspname = 'public' AND r.relname = ?
			ORDER BY c.conname`, table).Scan(&constraints).Error; err != nil {
			log.Fatalf("constraints of %s: %v", table, err)
		}
		for _, c := range constraints {
			fmt.Printf("   constraint %s: %s\n", c.Name, c.Def)
		}
	}
}
