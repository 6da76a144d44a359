package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// FilterBuilder helps build MongoDB filters fluently
type FilterBuilder struct {
	filter bson.M
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Lt adds a less-than condition
func (f *FilterBuilder) Lt(field string, value interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$lt": value}
	return f
}

// LtIf adds a less-than condition only when ok is true
func (f *FilterBuilder) LtIf(ok bool, field string, value interface{}) *FilterBuilder {
	if ok {
		return f.Lt(field, value)
	}
	return f
}

// NotElemMatch requires that no element of the array field matches cond
func (f *FilterBuilder) NotElemMatch(field string, cond bson.M) *FilterBuilder {
	f.filter[field] = bson.M{"$not": bson.M{"$elemMatch": cond}}
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}
