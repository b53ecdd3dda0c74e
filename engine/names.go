package engine

// Export names of the speech engine ABI. The host resolves every one of
// them at instantiation and fails fast, naming all gaps at once, when the
// module does not satisfy the contract.
const (
	ExportMemory           = "memory"
	ExportAlloc            = "alloc"
	ExportDealloc          = "dealloc"
	ExportInitContext      = "init_context"
	ExportSendMessage      = "send_message"
	ExportFreeBuffer       = "free_buffer"
	ExportRegisterCallback = "register_callback"
)

// Import surface the engine links against. The host instantiates one
// module under HostModule exposing HostDeliver before any engine module
// is instantiated on the runtime.
const (
	HostModule  = "env"
	HostDeliver = "deliver"
)

// requiredExports lists the function exports the boundary needs, in the
// order missing ones are reported. ExportMemory is checked separately
// because memory is not a function.
var requiredExports = []string{
	ExportAlloc,
	ExportDealloc,
	ExportInitContext,
	ExportSendMessage,
	ExportFreeBuffer,
	ExportRegisterCallback,
}
