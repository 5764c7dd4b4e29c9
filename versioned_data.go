package ldclient

// VersionedData is a common interface for string-keyed, versioned objects such as feature
// flags and segments, as they are stored in a feature store.
type VersionedData interface {
	// GetKey returns the string key for this object.
	GetKey() string
	// GetVersion returns the version number for this object.
	GetVersion() int
	// IsDeleted returns whether or not this object has been deleted.
	IsDeleted() bool
}

// VersionedDataKind describes a kind of VersionedData objects that may exist in a store.
type VersionedDataKind interface {
	// GetNamespace returns a short string that serves as the unique name for the collection
	// of these objects, e.g. "features".
	GetNamespace() string
	// GetDefaultItem returns a pointer to a newly created null value of this object type.
	// This is used for JSON unmarshalling.
	GetDefaultItem() interface{}
	// MakeDeletedItem returns a value of this object type with the specified key and version,
	// and Deleted=true.
	MakeDeletedItem(key string, version int) VersionedData
}

// VersionedDataKinds is a list of supported VersionedDataKinds. Among other things, this list
// might be used by feature stores to know what data (namespaces) to expect.
var VersionedDataKinds = [...]VersionedDataKind{ //nolint:gochecknoglobals
	Features,
	Segments,
}

// featureFlagVersionedDataKind implements VersionedDataKind for feature flags.
type featureFlagVersionedDataKind struct{}

// GetNamespace returns the unique namespace identifier for feature flag objects.
func (fk featureFlagVersionedDataKind) GetNamespace() string {
	return "features"
}

// String returns the namespace.
func (fk featureFlagVersionedDataKind) String() string {
	return fk.GetNamespace()
}

// GetDefaultItem returns a default feature flag representation.
func (fk featureFlagVersionedDataKind) GetDefaultItem() interface{} {
	return &FeatureFlag{}
}

// MakeDeletedItem returns a representation of a deleted flag.
func (fk featureFlagVersionedDataKind) MakeDeletedItem(key string, version int) VersionedData {
	return &FeatureFlag{Key: key, Version: version, Deleted: true}
}

// Features is a convenience variable to access an instance of VersionedDataKind for flags.
var Features VersionedDataKind = featureFlagVersionedDataKind{} //nolint:gochecknoglobals

// segmentVersionedDataKind implements VersionedDataKind for segments.
type segmentVersionedDataKind struct{}

// GetNamespace returns the unique namespace identifier for segment objects.
func (sk segmentVersionedDataKind) GetNamespace() string {
	return "segments"
}

// String returns the namespace.
func (sk segmentVersionedDataKind) String() string {
	return sk.GetNamespace()
}

// GetDefaultItem returns a default segment representation.
func (sk segmentVersionedDataKind) GetDefaultItem() interface{} {
	return &Segment{}
}

// MakeDeletedItem returns a representation of a deleted segment.
func (sk segmentVersionedDataKind) MakeDeletedItem(key string, version int) VersionedData {
	return &Segment{Key: key, Version: version, Deleted: true}
}

// Segments is a convenience variable to access an instance of VersionedDataKind for segments.
var Segments VersionedDataKind = segmentVersionedDataKind{} //nolint:gochecknoglobals
