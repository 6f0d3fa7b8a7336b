package build

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/NihilDigit/renpak/rpa"
)

// Analyze prints per-extension entry counts for an archive, most frequent
// first, with an example name per extension.
func Analyze(w io.Writer, rpaPath string) error {
	r, err := rpa.Open(rpaPath)
	if err != nil {
		return err
	}
	defer r.Close()

	index, err := r.ReadIndex()
	if err != nil {
		return err
	}

	type extInfo struct {
		count   int
		example string
	}
	byExt := make(map[string]*extInfo)
	for _, name := range index.Names() {
		ext := path.Ext(name)
		if ext == "" {
			ext = "(no ext)"
		}
		info := byExt[ext]
		if info == nil {
			info = &extInfo{example: name}
			byExt[ext] = info
		}
		info.count++
	}

	exts := make([]string, 0, len(byExt))
	for ext := range byExt {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		if byExt[exts[i]].count != byExt[exts[j]].count {
			return byExt[exts[i]].count > byExt[exts[j]].count
		}
		return exts[i] < exts[j]
	})

	fmt.Fprintf(w, "  Total entries: %d\n", index.Len())
	fmt.Fprintf(w, "  %-12s %8s  Examples\n", "Extension", "Count")
	fmt.Fprintf(w, "  %-12s %8s  %s\n", "------------", "--------", "----------------------------------------")
	for _, ext := range exts {
		fmt.Fprintf(w, "  %-12s %8d  %s\n", ext, byExt[ext].count, byExt[ext].example)
	}
	return nil
}

// Info prints the archive header fields and the first 50 index entries.
func Info(w io.Writer, rpaPath string) error {
	r, err := rpa.Open(rpaPath)
	if err != nil {
		return err
	}
	defer r.Close()

	stat, err := os.Stat(rpaPath)
	if err != nil {
		return err
	}

	index, err := r.ReadIndex()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Size: %.1f MB\n", float64(stat.Size())/1024/1024)
	fmt.Fprintf(w, "Index offset: %d  Key: %08x\n", r.IndexOffset(), r.Key())
	fmt.Fprintf(w, "Entries: %d\n\n", index.Len())
	fmt.Fprintf(w, "%-60s %12s %12s\n", "Name", "Offset", "Length")
	fmt.Fprintf(w, "%-60s %12s %12s\n", dashes(60), dashes(12), dashes(12))

	names := index.Names()
	shown := names
	if len(shown) > 50 {
		shown = shown[:50]
	}
	for _, name := range shown {
		e, _ := index.Get(name)
		fmt.Fprintf(w, "%-60s %12d %12d\n", name, e.Offset, e.Length)
	}
	if len(names) > 50 {
		fmt.Fprintf(w, "  ... and %d more entries\n", len(names)-50)
	}
	return nil
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}
