package abi

// Guest exports.
const (
	ExportMemory            = "memory"
	ExportAllocate          = "allocate"
	ExportFree              = "free"
	ExportSumBytes          = "sum_bytes"
	ExportBeginConversation = "begin_conversation"
	ExportLastStatus        = "last_status"
	ExportLiveBlocks        = "live_blocks"
)

// RequiredExports lists the functions every guest must export.
var RequiredExports = []string{
	ExportAllocate,
	ExportFree,
	ExportSumBytes,
	ExportBeginConversation,
	ExportLastStatus,
	ExportLiveBlocks,
}

// Host imports.
const (
	HostModule     = "exchange_host"
	ImportAppend   = "host_append"
	ImportLogEvent = "log_message"
)
