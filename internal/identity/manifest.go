package identity

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash fingerprints a manifest so two peers can cheaply compare identity
// tables. Entries must already be in Manifest order.
func Hash(entries []Entry) uint64 {
	d := xxhash.New()
	var buf []byte
	for _, e := range entries {
		buf = buf[:0]
		buf = append(buf, e.Name...)
		buf = append(buf, '=')
		buf = strconv.AppendUint(buf, uint64(e.Identity.Module), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(e.Identity.Group), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(e.Identity.Message), 10)
		buf = append(buf, '/')
		buf = strconv.AppendUint(buf, uint64(e.Direction), 10)
		buf = append(buf, ';')
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// Difference is one type whose entry differs between two manifests. A
// zero Local or Remote means the type is missing on that side.
type Difference struct {
	Name   string
	Local  Entry
	Remote Entry
}

// Diff lists the types whose entries differ, sorted by name.
func Diff(local, remote []Entry) []Difference {
	byName := make(map[string]*Difference, len(local)+len(remote))
	for _, e := range local {
		byName[e.Name] = &Difference{Name: e.Name, Local: e}
	}
	for _, e := range remote {
		if d, ok := byName[e.Name]; ok {
			d.Remote = e
			continue
		}
		byName[e.Name] = &Difference{Name: e.Name, Remote: e}
	}
	var out []Difference
	for _, d := range byName {
		if d.Local != d.Remote {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
