package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// Migrate creates or updates the grading tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Assessment{},
		&models.Submission{},
		&models.TrainingDataRecord{},
		&models.GradingPolicy{},
		&models.GradeCriterion{},
		&models.GradeWeight{},
		&models.AISettings{},
		&models.MLTrainingSettings{},
		&models.MLTrainingRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
