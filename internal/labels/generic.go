package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var wordnetID = regexp.MustCompile(`^n\d{8}\s+`)

// List is an immutable, file-backed label table.
type List struct {
	labels []string
}

// LoadFile reads one label per line from path.
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file %s: %w", path, err)
	}
	defer f.Close()

	list, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file %s: %w", path, err)
	}
	return list, nil
}

// Parse reads one label per line. Blank lines are skipped and a leading
// WordNet id ("n01440764 tench") is dropped.
func Parse(r io.Reader) (*List, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, wordnetID.ReplaceAllString(line, ""))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels found")
	}
	return &List{labels: labels}, nil
}

// NewList builds a List from labels held in memory.
func NewList(labels ...string) *List {
	return &List{labels: append([]string(nil), labels...)}
}

func (l *List) Label(index int) (string, bool) {
	if index < 0 || index >= len(l.labels) {
		return "", false
	}
	return l.labels[index], true
}

func (l *List) Len() int { return len(l.labels) }
