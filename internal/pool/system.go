package pool

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemUsage returns host CPU and memory utilisation in percent. Values that
// cannot be sampled are reported as zero.
func SystemUsage() (cpuPercent, memPercent float64) {
	if values, err := cpu.Percent(0, false); err == nil && len(values) > 0 {
		cpuPercent = values[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}
	return cpuPercent, memPercent
}

// SystemUsage exposes host usage next to the pool counters.
func (p *Pool) SystemUsage() (float64, float64) {
	return SystemUsage()
}
