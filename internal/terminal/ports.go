package terminal

import (
	"context"
	"sort"

	gnet "github.com/shirou/gopsutil/v4/net"
	gprocess "github.com/shirou/gopsutil/v4/process"

	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/schema"
)

// ListeningPorts lists local TCP listeners and their owning processes.
func ListeningPorts(ctx context.Context) ([]schema.PortProcess, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, schema.IO(err)
	}
	seen := make(map[[2]int64]bool)
	names := make(map[int32]string)
	var out []schema.PortProcess
	for _, conn := range conns {
		if conn.Status != "LISTEN" {
			continue
		}
		key := [2]int64{int64(conn.Laddr.Port), int64(conn.Pid)}
		if seen[key] {
			continue
		}
		seen[key] = true
		name, ok := names[conn.Pid]
		if !ok {
			name = processName(ctx, conn.Pid)
			names[conn.Pid] = name
		}
		out = append(out, schema.PortProcess{
			Port:    conn.Laddr.Port,
			Pid:     conn.Pid,
			Name:    name,
			Address: conn.Laddr.IP,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Pid < out[j].Pid
	})
	return out, nil
}

// ProcessOnPort finds the process listening on port.
func ProcessOnPort(ctx context.Context, port uint32) (schema.PortProcess, error) {
	ports, err := ListeningPorts(ctx)
	if err != nil {
		return schema.PortProcess{}, err
	}
	for _, p := range ports {
		if p.Port == port && p.Pid > 0 {
			return p, nil
		}
	}
	return schema.PortProcess{}, schema.NotFound("process on port", itoa(port))
}

// KillProcessOnPort kills the process tree listening on port.
func KillProcessOnPort(ctx context.Context, port uint32) (schema.PortProcess, error) {
	p, err := ProcessOnPort(ctx, port)
	if err != nil {
		return schema.PortProcess{}, err
	}
	if err := process.KillTree(int(p.Pid), process.KillGrace, nil); err != nil {
		return p, schema.IO(err)
	}
	return p, nil
}

func processName(ctx context.Context, pid int32) string {
	if pid <= 0 {
		return ""
	}
	proc, err := gprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
