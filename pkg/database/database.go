package database

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"edulearn_backend/internal/config"
	"edulearn_backend/internal/model"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	return db, nil
}

// Migrate 统一迁移入口，测试环境（sqlite）复用同一套表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.StudentTeacherLink{},
		&model.Course{},
		&model.CourseParent{},
		&model.CourseDependency{},
		&model.TeacherCourse{},
		&model.CoursePlanEntry{},
		&model.Task{},
		&model.Material{},
		&model.MaterialProgress{},
		&model.Attempt{},
		&model.TaskResult{},
		&model.StudentTaskLimitOverride{},
		&model.LearningEvent{},
		&model.HelpRequest{},
		&model.HelpRequestReply{},
		&model.Message{},
	)
}
