//go:build !linux && !windows

package process

import (
	"context"
	"time"

	gprocess "github.com/shirou/gopsutil/v4/process"
)

func descendants(root int) ([]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var out []int
	queue := []int32{int32(root)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		proc, err := gprocess.NewProcessWithContext(ctx, cur)
		if err != nil {
			continue
		}
		children, err := proc.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, child := range children {
			out = append(out, int(child.Pid))
			queue = append(queue, child.Pid)
		}
	}
	return out, nil
}
