package winapi

import (
	"fmt"
	"unsafe"
)

// peSignature is "PE\0\0", IMAGE_NT_SIGNATURE.
const peSignature = 0x00004550

// eLfanewOffset is the offset of IMAGE_DOS_HEADER.e_lfanew.
const eLfanewOffset = 0x3C

type imageFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// imageOptionalHeader32 only declares the leading fields of
// IMAGE_OPTIONAL_HEADER32 this library reads (BaseOfCode, SizeOfCode).
// It is safe to overlay on the real, longer structure because a Go
// struct read through unsafe.Pointer only ever touches the bytes its own
// fields cover.
type imageOptionalHeader32 struct {
	Magic                   uint16
	MajorLinkerVersion      byte
	MinorLinkerVersion      byte
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	BaseOfData              uint32
	ImageBase               uint32
}

type imageNTHeaders32 struct {
	Signature      uint32
	FileHeader     imageFileHeader
	OptionalHeader imageOptionalHeader32
}

// ModuleCodeBounds reads the PE headers of the module loaded at base (in
// the calling process's own address space — for an injected remote
// trace, the tracer code runs inside the target process by the time this
// is called, so "this process" already means the traced one) and returns
// the base and size of its code section.
func ModuleCodeBounds(base uintptr) (codeBase uintptr, codeSize uint32, err error) {
	if base == 0 {
		return 0, 0, fmt.Errorf("winapi: nil module base")
	}

	eLfanew := *(*int32)(unsafe.Pointer(base + eLfanewOffset))
	ntHeader := (*imageNTHeaders32)(unsafe.Pointer(base + uintptr(eLfanew)))

	if ntHeader.Signature != peSignature {
		return 0, 0, fmt.Errorf("winapi: module at %#x has no valid PE signature", base)
	}

	codeBase = base + uintptr(ntHeader.OptionalHeader.BaseOfCode)
	codeSize = ntHeader.OptionalHeader.SizeOfCode
	return codeBase, codeSize, nil
}
