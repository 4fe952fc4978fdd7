// Package keys derives cache keys and invalidation tags from the resource a
// query reads, so cache keys are never spelled out by hand at call sites.
//
// A Key renders to the flat string the dashboards always used
// ("admin_posyandus_active", "admin_dashboard_12") and carries tags naming
// every resource the response depends on. Writes invalidate by tag.
package keys

import (
	"slices"
	"strings"
)

// Scope separates the views of different roles so their responses never share a key.
type Scope string

const (
	Admin Scope = "admin"
	Kader Scope = "kader"
)

// Resource is a backend collection a query reads from.
type Resource string

const (
	Posyandu  Resource = "posyandu"
	Child     Resource = "child"
	Growth    Resource = "growth"
	User      Resource = "user"
	Dashboard Resource = "dashboard"
	Report    Resource = "report"
)

// collection names keep the historical plural spelling of the string keys.
var collection = map[Resource]string{
	Posyandu:  "posyandus",
	Child:     "children",
	Growth:    "growth",
	User:      "users",
	Dashboard: "dashboard",
	Report:    "report",
}

/*
dependsOn lists the resources whose writes change an aggregate view.

A dashboard counts posyandus, children, cadres and growth statuses, so a
write to any of them must drop it. Reports summarise growth records of
children.
*/
var dependsOn = map[Resource][]Resource{
	Dashboard: {Posyandu, Child, Growth, User},
	Report:    {Child, Growth},
	Growth:    {Child},
}

// Key identifies one logical, filter-specific query result.
type Key struct {
	Scope    Scope
	Resource Resource

	// Filter narrows a collection ("active", "all", a role, a period).
	Filter string

	// ID pins the query to one record or one posyandu.
	ID string
}

// New builds a key for resource in scope.
func New(scope Scope, r Resource) Key {
	return Key{Scope: scope, Resource: r}
}

// With returns a copy of k narrowed by filter.
func (k Key) With(filter string) Key {
	k.Filter = filter
	return k
}

// For returns a copy of k pinned to id.
func (k Key) For(id string) Key {
	k.ID = id
	return k
}

/*
String renders scope_collection[_filter][_id_<id>].

For example:

	admin_posyandus
	admin_posyandus_active
	admin_dashboard_12
	kader_children_7
	kader_children_id_7

The id segment carries its own marker: a list filtered by posyandu 7 and
the record with id 7 are different queries.
*/
func (k Key) String() string {
	name, ok := collection[k.Resource]
	if !ok {
		name = string(k.Resource)
	}

	parts := []string{string(k.Scope), name}
	if k.Filter != "" {
		parts = append(parts, k.Filter)
	}
	if k.ID != "" {
		parts = append(parts, "id", k.ID)
	}
	return strings.Join(parts, "_")
}

/*
Tags returns every tag the response under k must be invalidated by:
its own resource, the resource pinned to ID, and every resource it is
aggregated from.
*/
func (k Key) Tags() []string {
	tags := []string{Tag(k.Resource)}
	if k.ID != "" {
		tags = append(tags, RecordTag(k.Resource, k.ID))
	}
	for _, dep := range dependsOn[k.Resource] {
		tags = append(tags, Tag(dep))
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}

// Tag is the invalidation tag of a whole resource.
func Tag(r Resource) string {
	return string(r)
}

// RecordTag is the invalidation tag of one record of a resource.
func RecordTag(r Resource, id string) string {
	return string(r) + ":" + id
}
