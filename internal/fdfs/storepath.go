package fdfs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	pathSeparator = "/"
	groupMarker   = "group"

	metaRecordSep = "\x01"
	metaFieldSep  = "\x02"
)

// ErrInvalidStorePath is returned when a URL cannot be split into group and path.
var ErrInvalidStorePath = errors.New("fdfs: invalid store path")

// StorePath identifies a stored file: the group it lives in and its path
// relative to that group, e.g. group1 / M00/00/00/wKgAyl8yNw.jpg.
type StorePath struct {
	Group string `json:"group"`
	Path  string `json:"path"`
}

// FullPath returns "group/path".
func (p StorePath) FullPath() string {
	return p.Group + pathSeparator + p.Path
}

func (p StorePath) String() string {
	return p.FullPath()
}

// ParseStorePath extracts a StorePath from a full URL or a bare
// "group/path" string. The group is the first path segment containing
// "group"; the path is everything after it.
func ParseStorePath(raw string) (StorePath, error) {
	segments := strings.Split(raw, pathSeparator)
	if len(segments) == 1 {
		return StorePath{}, fmt.Errorf("%w: expected group/path, got %q", ErrInvalidStorePath, raw)
	}

	offset := 0
	for _, seg := range segments {
		if strings.Contains(seg, groupMarker) {
			path := raw[offset+len(seg):]
			path = strings.TrimPrefix(path, pathSeparator)
			if path == "" {
				return StorePath{}, fmt.Errorf("%w: empty path in %q", ErrInvalidStorePath, raw)
			}
			return StorePath{Group: seg, Path: path}, nil
		}
		offset += len(seg) + len(pathSeparator)
	}
	return StorePath{}, fmt.Errorf("%w: no group segment in %q", ErrInvalidStorePath, raw)
}

// MetaData is the flat key/value annotation set attached to a stored file.
type MetaData map[string]string

// encode serialises metadata as key\x02value records joined by \x01.
// Keys are sorted so the encoding is stable.
func (m MetaData) encode() []byte {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(metaRecordSep)
		}
		sb.WriteString(k)
		sb.WriteString(metaFieldSep)
		sb.WriteString(m[k])
	}
	return []byte(sb.String())
}

func decodeMetaData(b []byte) MetaData {
	m := MetaData{}
	if len(b) == 0 {
		return m
	}
	for _, rec := range strings.Split(string(b), metaRecordSep) {
		if rec == "" {
			continue
		}
		k, v, _ := strings.Cut(rec, metaFieldSep)
		m[k] = v
	}
	return m
}
