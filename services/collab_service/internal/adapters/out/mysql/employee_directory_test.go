package mysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmployeeDirectory_DisplayName(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := newTestDB(t)
	req.NoError(db.Create(&EmployeeModel{ID: 1, FirstName: "Ada", LastName: "Lovelace"}).Error)
	req.NoError(db.Create(&EmployeeModel{ID: 2, Email: "bo@example.com"}).Error)
	dir := NewEmployeeDirectoryMySQL(db)

	name, err := dir.DisplayName(ctx, 1)
	req.NoError(err)
	req.Equal("Ada Lovelace", name)

	name, err = dir.DisplayName(ctx, 2)
	req.NoError(err)
	req.Equal("bo@example.com", name)

	name, err = dir.DisplayName(ctx, 404)
	req.NoError(err)
	req.Empty(name)
}

func TestEmployeeDirectory_CachesNames(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := newTestDB(t)
	req.NoError(db.Create(&EmployeeModel{ID: 1, FirstName: "Ada"}).Error)
	dir := NewEmployeeDirectoryMySQL(db)

	name, err := dir.DisplayName(ctx, 1)
	req.NoError(err)
	req.Equal("Ada", name)

	// When the row changes the cached name is still served
	req.NoError(db.Model(&EmployeeModel{}).Where("id = ?", 1).Update("first_name", "Grace").Error)

	name, err = dir.DisplayName(ctx, 1)
	req.NoError(err)
	req.Equal("Ada", name)
}
