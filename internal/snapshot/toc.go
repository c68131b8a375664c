package snapshot

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tocFileName is the completion marker: its presence, not its contents, is
// what makes a snapshot directory valid (spec.md §3 invariant 1).
const tocFileName = ".toc"

// toc is the extensible text record written into a snapshot's .toc file.
// The only required field is ID; unknown or missing optional fields are
// tolerated on parse, per spec.md §6 ("extensible text record whose only
// required field is the snapshot ID").
type toc struct {
	ID         int64
	CreatedAt  time.Time
	SourceSize int64
}

// marshal renders the record as "key=value" lines.
func (t toc) marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%d\n", t.ID)
	fmt.Fprintf(&b, "created_at=%d\n", t.CreatedAt.UnixNano())
	fmt.Fprintf(&b, "source_size=%d\n", t.SourceSize)
	return []byte(b.String())
}

// parseTOC parses a .toc record. Only "id" is required; any other line is
// parsed on a best-effort basis and ignored if malformed, so that future
// fields can be added without breaking older readers.
func parseTOC(data []byte) (toc, error) {
	var t toc
	haveID := false

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "id":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			t.ID = id
			haveID = true
		case "created_at":
			nanos, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			t.CreatedAt = time.Unix(0, nanos)
		case "source_size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			t.SourceSize = size
		}
	}

	if !haveID {
		return toc{}, fmt.Errorf("toc record missing required id field")
	}
	return t, nil
}
