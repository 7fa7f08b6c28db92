package mysql

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

const (
	nameCacheTTL     = 10 * time.Minute
	nameCacheCleanup = 30 * time.Minute
)

// EmployeeModel 员工表只读映射，表由人事模块维护
type EmployeeModel struct {
	ID        uint64 `gorm:"column:id;primaryKey"`
	FirstName string `gorm:"column:first_name;type:varchar(64)"`
	LastName  string `gorm:"column:last_name;type:varchar(64)"`
	Email     string `gorm:"column:email;type:varchar(128)"`
}

func (EmployeeModel) TableName() string {
	return "employees"
}

func (m *EmployeeModel) displayName() string {
	name := strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
	if name == "" {
		return m.Email
	}
	return name
}

// EmployeeDirectoryMySQL 员工显示名查询，带本地缓存
type EmployeeDirectoryMySQL struct {
	db    *gorm.DB
	names *cache.Cache
}

func NewEmployeeDirectoryMySQL(db *gorm.DB) out.EmployeeDirectory {
	return &EmployeeDirectoryMySQL{
		db:    db,
		names: cache.New(nameCacheTTL, nameCacheCleanup),
	}
}

func (d *EmployeeDirectoryMySQL) DisplayName(ctx context.Context, employeeID uint64) (string, error) {
	key := strconv.FormatUint(employeeID, 10)
	if v, ok := d.names.Get(key); ok {
		return v.(string), nil
	}

	var model EmployeeModel
	err := d.db.WithContext(ctx).
		Select("id", "first_name", "last_name", "email").
		Where("id = ?", employeeID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 查不到也缓存，避免反复打库
			d.names.SetDefault(key, "")
			return "", nil
		}
		return "", err
	}

	name := model.displayName()
	d.names.SetDefault(key, name)
	return name, nil
}
