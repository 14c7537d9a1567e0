package fsdiscovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
)

// BinarySuffix marks the files a batch is built from.
const BinarySuffix = ".bin"

// Source lists work items from a single build directory (non-recursive).
type Source struct {
	dir string
}

func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

var _ ports.ItemSource = (*Source)(nil)

// Discover returns the base names of every *.bin entry in lexical order.
func (s *Source) Discover(ctx context.Context) ([]domain.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// os.ReadDir already sorts by file name.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read build dir: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base, ok := strings.CutSuffix(name, BinarySuffix)
		if !ok || base == "" {
			continue
		}
		items = append(items, domain.WorkItem(base))
	}
	return items, nil
}
