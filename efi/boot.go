package efi

// BootInfo holds the firmware data collected by the entry stub before boot
// services are exited.
type BootInfo struct {
	// MemoryMap is the final memory map returned before ExitBootServices.
	MemoryMap *MemoryMap

	// LoadOptions is the raw UCS-2 option buffer of the loaded image.
	LoadOptions []byte
}

// CmdLine decodes and parses the load options. Undecodable options yield an
// empty map.
func (b *BootInfo) CmdLine() map[string]string {
	opts, err := DecodeLoadOptions(b.LoadOptions)
	if err != nil {
		opts = ""
	}
	return ParseCmdLine(opts)
}
