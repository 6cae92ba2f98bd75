package defs

// / Sector size and page size in the units this module fixes them at:
// / a page is exactly 8 sectors.
const (
	SectorSize = 512             /// bytes per disk sector
	PageSize   = 4096             /// bytes per page
	SectorsPerPage = PageSize / SectorSize /// 8
)

// / InvalidSector is the sentinel sector address meaning "no sector":
// / 2^32-1, reserved out of the sector address space.
const InvalidSector = ^uint32(0)

// / PhysBase is the top of user virtual address space; the stack grows
// / down from here. Chosen as the conventional x86 3GB/4GB split, not
// / load-bearing for correctness since all stack-growth math is
// / relative to it.
const PhysBase = 0xc0000000

// / StackLimit bounds how far below PhysBase the stack may grow
// / (PHYS_BASE - 8 MiB).
const StackLimit = 8 * 1024 * 1024

// / StackGrowthSlack is how far below the current stack pointer a fault
// / address may still be considered a stack-growth request ("esp - 32").
const StackGrowthSlack = 32
