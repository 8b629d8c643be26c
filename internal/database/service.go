package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TaskService persistence operations for sync task definitions.
type TaskService struct {
	db *gorm.DB
}

func NewTaskService() *TaskService {
	return &TaskService{db: GetDB()}
}

func (s *TaskService) ensureDB() (*gorm.DB, error) {
	if s.db == nil {
		s.db = GetDB()
	}
	if s.db == nil {
		return nil, errors.New("database not initialized")
	}
	return s.db, nil
}

func (s *TaskService) Create(task *SyncTask) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	return db.Create(task).Error
}

func (s *TaskService) Update(task *SyncTask) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	return db.Save(task).Error
}

func (s *TaskService) Delete(id uint) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	return db.Delete(&SyncTask{}, id).Error
}

func (s *TaskService) Get(id uint) (*SyncTask, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var task SyncTask
	if err := db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task not found: %d", id)
		}
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) List(enabledOnly bool) ([]SyncTask, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var tasks []SyncTask
	q := db.Order("id ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// LogService persistence operations for sync outcome logs.
type LogService struct {
	db *gorm.DB
}

func NewLogService() *LogService {
	return &LogService{db: GetDB()}
}

func (s *LogService) ensureDB() (*gorm.DB, error) {
	if s.db == nil {
		s.db = GetDB()
	}
	if s.db == nil {
		return nil, errors.New("database not initialized")
	}
	return s.db, nil
}

func (s *LogService) Append(entry *SyncLog) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	return db.Create(entry).Error
}

// LogQuery filter for listing sync logs.
type LogQuery struct {
	TaskID uint
	Status string
	Limit  int
	Offset int
}

func (s *LogService) List(q LogQuery) ([]SyncLog, int64, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, 0, err
	}
	query := db.Model(&SyncLog{})
	if q.TaskID != 0 {
		query = query.Where("task_id = ?", q.TaskID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []SyncLog
	if err := query.Order("id DESC").Limit(limit).Offset(q.Offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// CleanupOldLogs removes log rows older than the retention window.
func (s *LogService) CleanupOldLogs(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return db.Unscoped().Where("created_at < ?", cutoff).Delete(&SyncLog{}).Error
}
