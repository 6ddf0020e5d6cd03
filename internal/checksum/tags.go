package checksum

import (
	"strings"

	"uploadplane/internal/store"
)

// TagPrefix namespaces checksum tags on stored objects.
const TagPrefix = "hca-dss-"

// Tags converts checksums to object tags, e.g. sha1 -> hca-dss-sha1.
func Tags(c store.Checksums) map[string]string {
	tags := make(map[string]string, len(c))
	for alg, v := range c {
		tags[TagPrefix+alg] = v
	}
	return tags
}

// FromTags extracts the known checksum tags from an object's tag set,
// ignoring anything else the object carries.
func FromTags(tags map[string]string) store.Checksums {
	out := store.Checksums{}
	for k, v := range tags {
		alg, ok := strings.CutPrefix(k, TagPrefix)
		if !ok || !known(alg) {
			continue
		}
		out[alg] = v
	}
	return out
}

// Complete reports whether every algorithm is present.
func Complete(c store.Checksums) bool {
	for _, alg := range Algorithms {
		if c[alg] == "" {
			return false
		}
	}
	return true
}

func known(alg string) bool {
	for _, a := range Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}
