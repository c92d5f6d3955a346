package repositories

import (
	"context"
)

// QueryCondition is a single WHERE clause on a struct field.
type QueryCondition struct {
	Field    string      // Struct field name; translated to a column by the implementation
	Operator string      // Comparison operator, e.g. "=", ">", "IN"
	Value    interface{} // Value compared against
}

type ModelType interface{}

// Query wraps an optional example instance with conditions, sorting and paging.
type Query[T any] struct {
	Instance   T                // Non-zero fields become equality conditions
	Conditions []QueryCondition // Explicit conditions
	SortBy     string           // Column to order by; prefix with "-" for descending
	Limit      int
	Offset     int
}

// GenericRepository is the CRUD surface shared by every model repository.
type GenericRepository[T ModelType] interface {
	Create(ctx context.Context, data T) (T, error)
	Get(ctx context.Context, id uint) (T, error)
	Delete(ctx context.Context, id uint) error
	Find(ctx context.Context, query Query[T]) (T, error)
	FindAll(ctx context.Context, query Query[T]) ([]T, error)
	GetQuery() Query[T]
}

func EQ(field string, value interface{}) QueryCondition {
	return QueryCondition{Field: field, Operator: "=", Value: value}
}

func GTE(field string, value interface{}) QueryCondition {
	return QueryCondition{Field: field, Operator: ">=", Value: value}
}

func LT(field string, value interface{}) QueryCondition {
	return QueryCondition{Field: field, Operator: "<", Value: value}
}

// IN matches any of values.
func IN(field string, values interface{}) QueryCondition {
	return QueryCondition{Field: field, Operator: "IN", Value: values}
}
