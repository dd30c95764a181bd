package argus

import (
	"strings"

	"github.com/life-stream-dev/argus/internal/errs"
)

const (
	// DBPrefix names the default namespace and prefixes every user namespace.
	DBPrefix = "argus"

	// MetadataCollection suffixes the per-library metadata collection.
	MetadataCollection = "ARGUS"
	metadataDocID      = "ARGUS_META"

	fieldType  = "TYPE"
	fieldQuota = "QUOTA"
)

// ParseLibraryName resolves "lib" to ("argus", "lib") and both "ns.lib" and
// "argus_ns.lib" to ("argus_ns", "lib").
func ParseLibraryName(name string) (database, library string, err error) {
	if name == "" {
		return "", "", errs.New(errs.ErrInvalidLibraryName, "library name must not be empty")
	}
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 1 {
		return DBPrefix, name, nil
	}
	namespace, library := parts[0], parts[1]
	if namespace == "" || library == "" {
		return "", "", errs.New(errs.ErrInvalidLibraryName, "library name %q is malformed", name)
	}
	if strings.HasPrefix(namespace, DBPrefix) {
		return namespace, library, nil
	}
	return DBPrefix + "_" + namespace, library, nil
}

// displayName is the inverse of ParseLibraryName as reported by listings.
func displayName(database, library string) string {
	if database == DBPrefix {
		return library
	}
	return strings.TrimPrefix(database, DBPrefix+"_") + "." + library
}

func isArgusDatabase(database string) bool {
	return database == DBPrefix || strings.HasPrefix(database, DBPrefix+"_")
}

// belongsToLibrary reports whether collection is the library's top level
// collection or one of its "<library>.*" sub collections.
func belongsToLibrary(collection, library string) bool {
	return collection == library || strings.HasPrefix(collection, library+".")
}
