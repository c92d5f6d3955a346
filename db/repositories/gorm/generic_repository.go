package repositories_gorm

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"

	"gitlab.com/lmn-dev/lmn/db/repositories"
)

// GenericRepositoryGORM implements repositories.GenericRepository on GORM.
// Model repositories embed it and add their own queries.
type GenericRepositoryGORM[T repositories.ModelType] struct {
	db *gorm.DB
}

func NewGenericRepository[T repositories.ModelType](db *gorm.DB) *GenericRepositoryGORM[T] {
	return &GenericRepositoryGORM[T]{db: db}
}

// GetQuery returns a clean Query instance for building queries.
func (repo *GenericRepositoryGORM[T]) GetQuery() repositories.Query[T] {
	return repositories.Query[T]{}
}

func (repo *GenericRepositoryGORM[T]) Create(ctx context.Context, data T) (T, error) {
	err := repo.db.WithContext(ctx).Create(&data).Error
	return data, handleDBError(err)
}

func (repo *GenericRepositoryGORM[T]) Get(ctx context.Context, id uint) (T, error) {
	var result T
	err := repo.db.WithContext(ctx).First(&result, id).Error
	return result, handleDBError(err)
}

func (repo *GenericRepositoryGORM[T]) Delete(ctx context.Context, id uint) error {
	err := repo.db.WithContext(ctx).Delete(new(T), id).Error
	return handleDBError(err)
}

// Find retrieves the first record matching query.
func (repo *GenericRepositoryGORM[T]) Find(ctx context.Context, query repositories.Query[T]) (T, error) {
	var result T
	db := repo.db.WithContext(ctx).Model(new(T))
	db = applyConditions(db, query)

	err := db.First(&result).Error
	return result, handleDBError(err)
}

// FindAll retrieves every record matching query.
func (repo *GenericRepositoryGORM[T]) FindAll(ctx context.Context, query repositories.Query[T]) ([]T, error) {
	var results []T
	db := repo.db.WithContext(ctx).Model(new(T))
	db = applyConditions(db, query)

	err := db.Find(&results).Error
	return results, handleDBError(err)
}

// applyConditions turns a Query into WHERE, ORDER BY, LIMIT and OFFSET clauses.
// Field names are mapped to columns with the database naming strategy.
func applyConditions[T any](db *gorm.DB, query repositories.Query[T]) *gorm.DB {
	tableName := db.NamingStrategy.TableName(reflect.TypeOf(*new(T)).Name())

	for _, condition := range query.Conditions {
		columnName := db.NamingStrategy.ColumnName(tableName, condition.Field)
		placeholder := "?"
		if condition.Operator == "IN" {
			placeholder = "(?)"
		}
		db = db.Where(fmt.Sprintf("%s %s %s", columnName, condition.Operator, placeholder), condition.Value)
	}

	if !isEmptyValue(query.Instance) {
		exampleType := reflect.TypeOf(query.Instance)
		exampleValue := reflect.ValueOf(query.Instance)
		for i := 0; i < exampleType.NumField(); i++ {
			field := exampleType.Field(i)
			if field.Anonymous || !field.IsExported() {
				continue
			}
			fieldValue := exampleValue.Field(i).Interface()
			if !isEmptyValue(fieldValue) {
				columnName := db.NamingStrategy.ColumnName(tableName, field.Name)
				db = db.Where(fmt.Sprintf("%s = ?", columnName), fieldValue)
			}
		}
	}

	if query.SortBy != "" {
		if strings.HasPrefix(query.SortBy, "-") {
			db = db.Order(db.NamingStrategy.ColumnName(tableName, query.SortBy[1:]) + " DESC")
		} else {
			db = db.Order(db.NamingStrategy.ColumnName(tableName, query.SortBy))
		}
	}
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}
	return db
}
