// Package servicemap implements the ServiceMap (spec.md §4.1): it resolves
// service names to numeric IDs and schema IDs, and partitions services into
// local (this side implements) vs remote (peer implements) sets.
//
// The name-parsing and ID-partitioning logic is new (spec.md has no teacher
// analogue — mini-rpc resolves services by bare string name via a
// map[string]*service, server/service.go), but the registration-time
// validation style (reject on first structural problem, fail fast) follows
// server/service.go's NewService.
package servicemap

import (
	"fmt"
	"regexp"
)

// Kind distinguishes API (request/response) services from one-way message
// services.
type Kind string

const (
	KindAPI Kind = "api"
	KindMsg Kind = "msg"
)

// Side says which endpoint(s) implement a service.
type Side string

const (
	SideServer Side = "server"
	SideClient Side = "client"
	SideBoth   Side = "both"
)

// Service is the immutable descriptor from spec.md §3.
type Service struct {
	ID   uint32
	Name string
	Kind Kind
	Side Side

	// API services.
	ReqSchemaID string
	ResSchemaID string

	// Message services.
	MsgSchemaID string
}

// ServiceProto is the input used to build a ServiceMap: the full set of
// services defined for a protocol, regardless of which side implements
// which.
type ServiceProto struct {
	Services []Service
}

var nameRE = regexp.MustCompile(`^(?:(.*)/)?([^/]+)$`)

// splitPath splits "a/b/c/Test" into path "a/b/c/" and name "Test", as
// spec.md §4.1 requires for schema ID derivation.
func splitPath(name string) (path, leaf string) {
	m := nameRE.FindStringSubmatch(name)
	if m == nil {
		return "", name
	}
	if m[1] != "" {
		return m[1] + "/", m[2]
	}
	return "", m[2]
}

func reqSchemaID(name string) string {
	path, leaf := splitPath(name)
	return fmt.Sprintf("%sPtl%s/Req%s", path, leaf, leaf)
}

func resSchemaID(name string) string {
	path, leaf := splitPath(name)
	return fmt.Sprintf("%sPtl%s/Res%s", path, leaf, leaf)
}

func msgSchemaID(name string) string {
	path, leaf := splitPath(name)
	return fmt.Sprintf("%sMsg%s/Msg%s", path, leaf, leaf)
}
