// Package pool
// Author: momentics <momentics@gmail.com>
//
// Hugepage memory layer for hioload-accel.
// Budget reserves pages per NUMA socket for arenas, SysfsCounters reads the
// host's hugepage counters, and HugepageArena maps the pages one arena owns.
package pool
