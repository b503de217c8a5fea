package pipeline

import (
	"path"
	"regexp"
	"strings"
)

var (
	dashedStamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}`)
	dottedStamp = regexp.MustCompile(`\d{4}\.\d{2}\.\d{2}\.\d{2}\.\d{2}\.\d{2}`)
)

// TimestampKey derives the result timestamp from an object key: the first
// YYYY-MM-DD-hh-mm-ss or YYYY.MM.DD.hh.mm.ss run in the base name, with dots
// turned into dashes. Without one it falls back to the base name minus its
// extension.
//
//	raw/ANOMALY_2024-03-01-12-29-58.npy → 2024-03-01-12-29-58
//	2004.02.12.10.32.39                 → 2004-02-12-10-32-39
//	bearing1.npy                        → bearing1
func TimestampKey(key string) string {
	base := path.Base(key)
	if base == "." || base == "/" {
		return key
	}

	d := dashedStamp.FindStringIndex(base)
	o := dottedStamp.FindStringIndex(base)
	switch {
	case d != nil && (o == nil || d[0] <= o[0]):
		return base[d[0]:d[1]]
	case o != nil:
		return strings.ReplaceAll(base[o[0]:o[1]], ".", "-")
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
