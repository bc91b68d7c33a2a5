package bpfloader

// MapType indicates the kernel-side map structure a MapDefinition asks
// to have created.
type MapType uint32

// Map types the loader understands well enough to special-case during
// attribute derivation (see deriveEffectiveAttrs). Values follow the
// kernel's enum bpf_map_type ordering; types this loader never
// special-cases are still passed through untouched.
const (
	MapTypeUnspec MapType = iota
	MapTypeHash
	MapTypeArray
	MapTypeProgArray
	MapTypePerfEventArray
	MapTypePerCPUHash
	MapTypePerCPUArray
	MapTypeStackTrace
	MapTypeCgroupArray
	MapTypeLRUHash
	MapTypeLRUPerCPUHash
	MapTypeLPMTrie
	MapTypeArrayOfMaps
	MapTypeHashOfMaps
	MapTypeDevMap
	MapTypeSockMap
	MapTypeCPUMap
	MapTypeXSKMap
	MapTypeSockHash
	MapTypeCgroupStorage
	MapTypeReusePortSockArray
	MapTypePerCPUCgroupStorage
	MapTypeQueue
	MapTypeStack
	MapTypeSKStorage
	MapTypeDevMapHash
	MapTypeStructOps
	MapTypeRingBuf
	MapTypeInodeStorage
	MapTypeTaskStorage
)

func (t MapType) String() string {
	switch t {
	case MapTypeUnspec:
		return "unspec"
	case MapTypeHash:
		return "hash"
	case MapTypeArray:
		return "array"
	case MapTypeProgArray:
		return "prog_array"
	case MapTypePerfEventArray:
		return "perf_event_array"
	case MapTypePerCPUHash:
		return "percpu_hash"
	case MapTypePerCPUArray:
		return "percpu_array"
	case MapTypeStackTrace:
		return "stack_trace"
	case MapTypeCgroupArray:
		return "cgroup_array"
	case MapTypeLRUHash:
		return "lru_hash"
	case MapTypeLRUPerCPUHash:
		return "lru_percpu_hash"
	case MapTypeLPMTrie:
		return "lpm_trie"
	case MapTypeArrayOfMaps:
		return "array_of_maps"
	case MapTypeHashOfMaps:
		return "hash_of_maps"
	case MapTypeDevMap:
		return "devmap"
	case MapTypeSockMap:
		return "sockmap"
	case MapTypeCPUMap:
		return "cpumap"
	case MapTypeXSKMap:
		return "xskmap"
	case MapTypeSockHash:
		return "sockhash"
	case MapTypeCgroupStorage:
		return "cgroup_storage"
	case MapTypeReusePortSockArray:
		return "reuseport_sockarray"
	case MapTypePerCPUCgroupStorage:
		return "percpu_cgroup_storage"
	case MapTypeQueue:
		return "queue"
	case MapTypeStack:
		return "stack"
	case MapTypeSKStorage:
		return "sk_storage"
	case MapTypeDevMapHash:
		return "devmap_hash"
	case MapTypeStructOps:
		return "struct_ops"
	case MapTypeRingBuf:
		return "ringbuf"
	case MapTypeInodeStorage:
		return "inode_storage"
	case MapTypeTaskStorage:
		return "task_storage"
	default:
		return "unknown"
	}
}

// ProgramType indicates which kernel verifier and attach surface a
// program targets. The zero value is "unspecified", used by the
// classifier when a section name matches no prefix, or when the
// fuse/ dynamic type could not be resolved.
type ProgramType uint32

const (
	ProgramTypeUnspec ProgramType = iota
	ProgramTypeSocketFilter
	ProgramTypeKprobe
	ProgramTypeSchedCLS
	ProgramTypeSchedACT
	ProgramTypeTracepoint
	ProgramTypeXDP
	ProgramTypePerfEvent
	ProgramTypeCgroupSKB
	ProgramTypeCgroupSock
	ProgramTypeFuse
)

func (t ProgramType) String() string {
	switch t {
	case ProgramTypeUnspec:
		return "unspec"
	case ProgramTypeSocketFilter:
		return "socket_filter"
	case ProgramTypeKprobe:
		return "kprobe"
	case ProgramTypeSchedCLS:
		return "sched_cls"
	case ProgramTypeSchedACT:
		return "sched_act"
	case ProgramTypeTracepoint:
		return "tracepoint"
	case ProgramTypeXDP:
		return "xdp"
	case ProgramTypePerfEvent:
		return "perf_event"
	case ProgramTypeCgroupSKB:
		return "cgroup_skb"
	case ProgramTypeCgroupSock:
		return "cgroup_sock"
	case ProgramTypeFuse:
		return "fuse"
	default:
		return "unknown"
	}
}

// AttachType indicates the expected attach surface for a program. The
// zero value, AttachTypeUnspec, aliases BPF_CGROUP_INET_INGRESS in the
// kernel's uapi, which is harmless here since none of the section
// prefixes this loader recognizes declare an attach type of their own.
type AttachType uint32

const (
	AttachTypeUnspec AttachType = iota
)

func (t AttachType) String() string {
	return "unspec"
}
