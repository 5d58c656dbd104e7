package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedParticipation(t *testing.T, db *gorm.DB) (models.Exercise, models.Participation) {
	t.Helper()
	exercise := models.Exercise{Title: "Sorting", MaxPoints: 10, AssessmentType: models.AssessmentTypeSemiAutomatic}
	require.NoError(t, db.Create(&exercise).Error)
	participation := models.Participation{ExerciseID: exercise.ID, StudentLogin: "student1", RepositoryName: "sorting-student1"}
	require.NoError(t, db.Create(&participation).Error)
	return exercise, participation
}
