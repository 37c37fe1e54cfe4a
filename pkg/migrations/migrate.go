package main

import (
	"github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"
)

func main() {
	// dropTables()
	createTables()

	logger.Info("Migrated.")
}

func dropTables() {
	db.DB.Migrator().DropTable(
		&models.User{},
		&models.MesaRecord{},
		&models.MesaBet{},
		&models.Winning{},
	)
}

func createTables() {
	db.DB.AutoMigrate(
		&models.User{},
		&models.MesaRecord{},
		&models.MesaBet{},
		&models.Winning{},
	)
}
