package lepus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sourcemap/sourcemap"
)

// minDebugInfoOutsideVersion is the first target SDK whose bundles carry
// their debug info in a separate source map.
const minDebugInfoOutsideVersion = "2.7"

// stackPosition matches "file:line:col" with an optional "(pc)" suffix, as
// written in engine stack frames.
var stackPosition = regexp.MustCompile(`([^\s()]+):(\d+):(\d+)(?:\(\d+\))?`)

// stackMapper rewrites generated positions in a backtrace to original
// source positions.
type stackMapper struct {
	consumer *sourcemap.Consumer
}

func newStackMapper(url string, data []byte) (*stackMapper, error) {
	c, err := sourcemap.Parse(url, data)
	if err != nil {
		return nil, fmt.Errorf("parse source map: %w", err)
	}
	return &stackMapper{consumer: c}, nil
}

// mapStack returns s with every position the source map knows replaced.
// Unknown positions are kept.
func (m *stackMapper) mapStack(s string) string {
	if m == nil {
		return s
	}
	return stackPosition.ReplaceAllStringFunc(s, func(pos string) string {
		sub := stackPosition.FindStringSubmatch(pos)
		line, _ := strconv.Atoi(sub[2])
		col, _ := strconv.Atoi(sub[3])
		// Engine columns are 1-based, source map columns 0-based.
		source, name, l, c, ok := m.consumer.Source(line, max(col-1, 0))
		if !ok {
			return pos
		}
		mapped := fmt.Sprintf("%s:%d:%d", source, l, c+1)
		if name != "" {
			mapped += " [" + name + "]"
		}
		return mapped
	})
}

// versionAtLeast compares dotted numeric versions. Missing components
// count as zero; a malformed component compares as zero.
func versionAtLeast(v, want string) bool {
	a := strings.Split(v, ".")
	b := strings.Split(want, ".")
	for i := range max(len(a), len(b)) {
		var x, y int
		if i < len(a) {
			x, _ = strconv.Atoi(a[i])
		}
		if i < len(b) {
			y, _ = strconv.Atoi(b[i])
		}
		if x != y {
			return x > y
		}
	}
	return true
}
