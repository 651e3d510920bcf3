package winapi

import "unsafe"

// unsafeSizeofThreadBasicInfo avoids importing reflect just to size a
// single internal struct used by NtQueryInformationThread.
var unsafeSizeofThreadBasicInfo = unsafe.Sizeof(threadBasicInfo{})
