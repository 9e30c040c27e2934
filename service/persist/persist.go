package persist

// DBID represents a server-assigned entity ID. The empty DBID means the entity has not
// been persisted yet.
type DBID string

func (d DBID) String() string {
	return string(d)
}

// Persisted reports whether the ID has been assigned by the server.
func (d DBID) Persisted() bool {
	return d != ""
}

// ToPointer returns nil for an unpersisted ID, which GraphQL encodes as null.
func (d DBID) ToPointer() *DBID {
	if d == "" {
		return nil
	}
	return &d
}
